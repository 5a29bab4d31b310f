package persist

import (
	"encoding/json"
	"reflect"
	"strings"

	"github.com/maxBogovick/memodb/core"
)

// Command is an explicit domain event with a deterministic reducer
// registered on the collection.
type Command interface {
	CommandType() string
}

// Patch is a partial field update keyed by JSON field name. Applying a
// patch overwrites only the named fields.
type Patch map[string]any

// Versioned is implemented by models that declare their own schema
// version; models without it default to schema version 1.
type Versioned interface {
	SchemaVersion() uint32
}

// fieldDef describes one model field mapped to a table column.
type fieldDef struct {
	Name    string // column name (json tag or lowercased field name)
	GoIndex int    // struct field index
	Type    core.DataType
	JSON    bool // marshalled as JSON text
	Unique  bool
	Index   bool
}

// modelSchema is the derived row mapping of a model type.
type modelSchema struct {
	goType        reflect.Type
	fields        []fieldDef
	schemaVersion uint32
}

// deriveSchema reflects over T once per collection open.
func deriveSchema(t reflect.Type) (*modelSchema, error) {
	if t.Kind() != reflect.Struct {
		return nil, core.Errorf(core.KindExecution, "model must be a struct, got %s", t.Kind())
	}
	schema := &modelSchema{goType: t, schemaVersion: 1}
	if v, ok := reflect.New(t).Interface().(Versioned); ok {
		schema.schemaVersion = v.SchemaVersion()
	}

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}
		name := strings.ToLower(field.Name)
		if tag := field.Tag.Get("json"); tag != "" {
			parts := strings.Split(tag, ",")
			if parts[0] == "-" {
				continue
			}
			if parts[0] != "" {
				name = parts[0]
			}
		}

		def := fieldDef{Name: name, GoIndex: i}
		switch field.Type.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
			reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			def.Type = core.IntegerType
		case reflect.Float32, reflect.Float64:
			def.Type = core.FloatType
		case reflect.String:
			def.Type = core.TextType
		case reflect.Bool:
			def.Type = core.BooleanType
		default:
			def.Type = core.TextType
			def.JSON = true
		}

		for _, opt := range strings.Split(field.Tag.Get("persist"), ",") {
			switch strings.TrimSpace(opt) {
			case "unique":
				def.Unique = true
			case "index":
				def.Index = true
			}
		}
		schema.fields = append(schema.fields, def)
	}
	if len(schema.fields) == 0 {
		return nil, core.Errorf(core.KindExecution, "model %s has no persistable fields", t.Name())
	}
	return schema, nil
}

// toValues renders a model into column values in field order.
func (s *modelSchema) toValues(model reflect.Value) ([]core.Value, error) {
	out := make([]core.Value, len(s.fields))
	for i, def := range s.fields {
		fv := model.Field(def.GoIndex)
		if def.JSON {
			raw, err := json.Marshal(fv.Interface())
			if err != nil {
				return nil, core.WrapErr(core.KindExecution, err, "field %s does not marshal", def.Name)
			}
			out[i] = core.NewText(string(raw))
			continue
		}
		switch def.Type {
		case core.IntegerType:
			if fv.CanInt() {
				out[i] = core.NewInteger(fv.Int())
			} else {
				out[i] = core.NewInteger(int64(fv.Uint()))
			}
		case core.FloatType:
			out[i] = core.NewFloat(fv.Float())
		case core.TextType:
			out[i] = core.NewText(fv.String())
		case core.BooleanType:
			out[i] = core.NewBoolean(fv.Bool())
		}
	}
	return out, nil
}

// fromValues rebuilds a model from column values in field order.
func (s *modelSchema) fromValues(values []core.Value) (reflect.Value, error) {
	model := reflect.New(s.goType).Elem()
	for i, def := range s.fields {
		if i >= len(values) {
			break
		}
		v := values[i]
		fv := model.Field(def.GoIndex)
		if v.IsNull() {
			continue
		}
		if def.JSON {
			if err := json.Unmarshal([]byte(v.Text), fv.Addr().Interface()); err != nil {
				return model, core.WrapErr(core.KindExecution, err, "field %s does not unmarshal", def.Name)
			}
			continue
		}
		switch def.Type {
		case core.IntegerType:
			if fv.CanInt() {
				fv.SetInt(v.Int)
			} else {
				fv.SetUint(uint64(v.Int))
			}
		case core.FloatType:
			fv.SetFloat(v.Float)
		case core.TextType:
			fv.SetString(v.Text)
		case core.BooleanType:
			fv.SetBool(v.Bool)
		}
	}
	return model, nil
}

// applyPatch overwrites the named fields of a model copy.
func (s *modelSchema) applyPatch(model reflect.Value, patch Patch) (reflect.Value, error) {
	out := reflect.New(s.goType).Elem()
	out.Set(model)
	for name, raw := range patch {
		var def *fieldDef
		for i := range s.fields {
			if s.fields[i].Name == name {
				def = &s.fields[i]
				break
			}
		}
		if def == nil {
			return out, core.Errorf(core.KindColumnNotFound, "patch field %q does not exist", name)
		}
		encoded, err := json.Marshal(raw)
		if err != nil {
			return out, core.WrapErr(core.KindExecution, err, "patch field %q does not encode", name)
		}
		if err := json.Unmarshal(encoded, out.Field(def.GoIndex).Addr().Interface()); err != nil {
			return out, core.WrapErr(core.KindExecution, err, "patch field %q does not apply", name)
		}
	}
	return out, nil
}
