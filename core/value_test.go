package core

import (
	"encoding/json"
	"math"
	"testing"
)

func TestNumericPromotion(t *testing.T) {
	a, b, err := CoerceNumeric(NewInteger(2), NewFloat(1.5))
	if err != nil {
		t.Fatalf("CoerceNumeric failed: %v", err)
	}
	if a.Kind != FloatValue || b.Kind != FloatValue {
		t.Errorf("Expected both floats, got %v and %v", a.Kind, b.Kind)
	}

	_, _, err = CoerceNumeric(NewText("x"), NewInteger(1))
	if !IsKind(err, KindTypeMismatch) {
		t.Errorf("Expected TypeMismatch, got %v", err)
	}
}

func TestCompareTextAgainstNumberFails(t *testing.T) {
	_, err := Compare(NewText("10"), NewInteger(10))
	if !IsKind(err, KindTypeMismatch) {
		t.Errorf("Expected TypeMismatch, got %v", err)
	}
}

func TestNaNSortsLastAndIsNotEqual(t *testing.T) {
	nan := NewFloat(math.NaN())

	c, err := Compare(nan, NewFloat(1e300))
	if err != nil || c != 1 {
		t.Errorf("Expected NaN to sort after 1e300, got c=%d err=%v", c, err)
	}

	eq, known, err := Equal(nan, nan)
	if err != nil {
		t.Fatalf("Equal failed: %v", err)
	}
	if eq || !known {
		t.Errorf("Expected NaN != NaN with known result, got eq=%v known=%v", eq, known)
	}
}

func TestNullThreeValuedLogic(t *testing.T) {
	_, known, err := Equal(Null(), NewInteger(1))
	if err != nil {
		t.Fatalf("Equal failed: %v", err)
	}
	if known {
		t.Error("NULL = 1 should be unknown")
	}
	if Null().AsBool() {
		t.Error("NULL should collapse to false")
	}
}

func TestIntegerDivision(t *testing.T) {
	v, err := Arith(OpDiv, NewInteger(7), NewInteger(2))
	if err != nil {
		t.Fatalf("Arith failed: %v", err)
	}
	if v.Kind != IntegerValue || v.Int != 3 {
		t.Errorf("Expected integer 3, got %v", v.Display())
	}

	v, err = Arith(OpDiv, NewInteger(7), NewFloat(2))
	if err != nil {
		t.Fatalf("Arith failed: %v", err)
	}
	if v.Kind != FloatValue || v.Float != 3.5 {
		t.Errorf("Expected float 3.5, got %v", v.Display())
	}
}

func TestDivisionByZero(t *testing.T) {
	if _, err := Arith(OpDiv, NewInteger(1), NewInteger(0)); !IsKind(err, KindExecution) {
		t.Errorf("Expected ExecutionError for 1/0, got %v", err)
	}
	if _, err := Arith(OpDiv, NewFloat(1), NewFloat(0)); !IsKind(err, KindExecution) {
		t.Errorf("Expected ExecutionError for 1.0/0.0, got %v", err)
	}
	if _, err := Arith(OpMod, NewInteger(1), NewInteger(0)); !IsKind(err, KindExecution) {
		t.Errorf("Expected ExecutionError for 1%%0, got %v", err)
	}
}

func TestModuloOnTextUnsupported(t *testing.T) {
	_, err := Arith(OpMod, NewText("a"), NewText("b"))
	if !IsKind(err, KindTypeMismatch) && !IsKind(err, KindUnsupported) {
		t.Errorf("Expected TypeMismatch or UnsupportedOperation, got %v", err)
	}
}

func TestValueJSONRoundTrip(t *testing.T) {
	values := []Value{
		Null(),
		NewInteger(-42),
		NewFloat(2.5),
		NewFloat(math.NaN()),
		NewText("héllo"),
		NewBoolean(true),
	}
	for _, v := range values {
		data, err := json.Marshal(v)
		if err != nil {
			t.Fatalf("Marshal %v failed: %v", v.Display(), err)
		}
		var back Value
		if err := json.Unmarshal(data, &back); err != nil {
			t.Fatalf("Unmarshal %s failed: %v", data, err)
		}
		if v.Kind != back.Kind {
			t.Errorf("Kind mismatch after round trip: %v vs %v", v.Kind, back.Kind)
		}
		if v.Kind == FloatValue && math.IsNaN(v.Float) {
			if !math.IsNaN(back.Float) {
				t.Error("NaN lost in round trip")
			}
			continue
		}
		if v != back {
			t.Errorf("Value mismatch after round trip: %v vs %v", v, back)
		}
	}
}

func TestDataTypeCompatibility(t *testing.T) {
	if !FloatType.IsCompatible(NewInteger(1)) {
		t.Error("FLOAT column should accept an integer")
	}
	if IntegerType.IsCompatible(NewFloat(1.0)) {
		t.Error("INTEGER column should reject a float")
	}
	if !TextType.IsCompatible(Null()) {
		t.Error("every type should accept NULL")
	}
}
