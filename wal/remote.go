package wal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/go-git/go-billy/v6"
	"github.com/go-git/go-billy/v6/osfs"
	log "github.com/sirupsen/logrus"

	"github.com/maxBogovick/memodb/core"
)

// Snapshot archiving. A destination URL selects the store:
//
//	s3://bucket[/prefix]   S3 or an S3-compatible endpoint
//	file:///dir, /dir      a local directory (billy osfs)
//	http(s)://base         fetch only
//
// An archive is the snapshot pair plus a manifest carrying the LSN, the
// api version, and a CRC32 per file, so a fetch can verify what it pulled
// before handing it to recovery — the same integrity stance the WAL takes
// with its per-record checksums.

// RemoteConfig carries S3 authentication for archive destinations.
type RemoteConfig struct {
	AccessKey string
	SecretKey string
	Region    string
	Endpoint  string // optional S3-compatible endpoint
}

const manifestName = "archive.manifest"

type archiveFile struct {
	Name  string `json:"name"`
	Size  int64  `json:"size"`
	CRC32 string `json:"crc32"`
}

type archiveManifest struct {
	LSN        uint64        `json:"lsn"`
	APIVersion string        `json:"api_version"`
	Files      []archiveFile `json:"files"`
}

func (m *archiveManifest) entry(name string) *archiveFile {
	for i := range m.Files {
		if m.Files[i].Name == name {
			return &m.Files[i]
		}
	}
	return nil
}

func fileChecksum(data []byte) string {
	return fmt.Sprintf("%08x", crc32.ChecksumIEEE(data))
}

// archiveStore is one archive destination: named blobs in, named blobs
// out.
type archiveStore interface {
	put(ctx context.Context, name string, data []byte) error
	get(ctx context.Context, name string) ([]byte, error)
}

func openArchiveStore(ctx context.Context, dest string, cfg *RemoteConfig) (archiveStore, error) {
	lower := strings.ToLower(dest)
	switch {
	case strings.HasPrefix(lower, "s3://"):
		return newS3Store(ctx, dest, cfg)
	case strings.HasPrefix(lower, "http://"), strings.HasPrefix(lower, "https://"):
		return &httpStore{base: strings.TrimSuffix(dest, "/")}, nil
	case strings.HasPrefix(lower, "file://"):
		return &fsStore{fs: osfs.New(strings.TrimPrefix(dest, "file://"))}, nil
	default:
		return &fsStore{fs: osfs.New(dest)}, nil
	}
}

// ArchiveSnapshot uploads the newest snapshot pair and a manifest to the
// destination.
func ArchiveSnapshot(ctx context.Context, fs billy.Filesystem, dir, dest string, cfg *RemoteConfig) error {
	lsns, err := ListSnapshots(fs, dir)
	if err != nil {
		return err
	}
	if len(lsns) == 0 {
		return fmt.Errorf("no snapshot to archive")
	}
	lsn := lsns[len(lsns)-1]
	base := fmt.Sprintf(snapshotPattern, lsn)

	store, err := openArchiveStore(ctx, dest, cfg)
	if err != nil {
		return err
	}

	manifest := archiveManifest{LSN: lsn, APIVersion: core.APIVersion()}
	for _, name := range []string{base, base + metaSuffix} {
		data, err := readAll(fs, path.Join(dir, name))
		if err != nil {
			return fmt.Errorf("snapshot file %s unreadable: %w", name, err)
		}
		if err := store.put(ctx, name, data); err != nil {
			return err
		}
		manifest.Files = append(manifest.Files, archiveFile{
			Name: name, Size: int64(len(data)), CRC32: fileChecksum(data),
		})
		log.WithFields(log.Fields{"file": name, "dest": dest, "bytes": len(data)}).
			Info("archived snapshot file")
	}

	raw, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return err
	}
	return store.put(ctx, manifestName, raw)
}

// FetchSnapshot downloads an archived snapshot pair into the snapshot
// dir, verifying each file against the manifest. lsn 0 means "whatever
// the manifest names".
func FetchSnapshot(ctx context.Context, fs billy.Filesystem, dir, src string, lsn uint64, cfg *RemoteConfig) error {
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	store, err := openArchiveStore(ctx, src, cfg)
	if err != nil {
		return err
	}

	var manifest *archiveManifest
	if raw, err := store.get(ctx, manifestName); err == nil {
		var m archiveManifest
		if json.Unmarshal(raw, &m) == nil {
			manifest = &m
		}
	}
	if lsn == 0 {
		if manifest == nil {
			return fmt.Errorf("archive at %s has no manifest; pass an explicit lsn", src)
		}
		lsn = manifest.LSN
	}

	base := fmt.Sprintf(snapshotPattern, lsn)
	for _, name := range []string{base, base + metaSuffix} {
		data, err := store.get(ctx, name)
		if err != nil {
			return fmt.Errorf("archive file %s unreadable: %w", name, err)
		}
		if manifest != nil {
			if entry := manifest.entry(name); entry != nil && entry.CRC32 != fileChecksum(data) {
				return fmt.Errorf("archive file %s fails its manifest checksum", name)
			}
		}
		if err := writeFileAtomic(fs, path.Join(dir, name), data); err != nil {
			return err
		}
	}
	return nil
}

func readAll(fs billy.Filesystem, name string) ([]byte, error) {
	f, err := fs.Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

// fsStore archives into a local directory through the same billy
// abstraction the WAL and snapshots use.
type fsStore struct {
	fs billy.Filesystem
}

func (s *fsStore) put(_ context.Context, name string, data []byte) error {
	if err := s.fs.MkdirAll(".", 0o755); err != nil {
		return err
	}
	return writeFileAtomic(s.fs, name, data)
}

func (s *fsStore) get(_ context.Context, name string) ([]byte, error) {
	return readAll(s.fs, name)
}

// httpStore serves fetches from a static file host; archiving to it is
// not supported.
type httpStore struct {
	base string
}

func (s *httpStore) put(context.Context, string, []byte) error {
	return fmt.Errorf("http archives are fetch-only")
}

func (s *httpStore) get(ctx context.Context, name string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.base+"/"+name, nil)
	if err != nil {
		return nil, err
	}
	client := &http.Client{Timeout: 5 * time.Minute}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("archive fetch failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("archive fetch returned status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// s3Store archives under an optional key prefix in one bucket.
type s3Store struct {
	client *s3.Client
	bucket string
	prefix string
}

func newS3Store(ctx context.Context, dest string, cfg *RemoteConfig) (*s3Store, error) {
	trimmed := strings.TrimPrefix(dest, "s3://")
	bucket, prefix, _ := strings.Cut(trimmed, "/")
	if bucket == "" {
		return nil, fmt.Errorf("archive destination %q names no bucket", dest)
	}

	var opts []func(*config.LoadOptions) error
	if cfg != nil && cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	if cfg != nil && cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("AWS config did not load: %w", err)
	}

	var clientOpts []func(*s3.Options)
	if cfg != nil && cfg.Endpoint != "" {
		clientOpts = append(clientOpts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	}
	return &s3Store{
		client: s3.NewFromConfig(awsCfg, clientOpts...),
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
	}, nil
}

func (s *s3Store) key(name string) string {
	if s.prefix == "" {
		return name
	}
	return s.prefix + "/" + name
}

func (s *s3Store) put(ctx context.Context, name string, data []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(name)),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return fmt.Errorf("archive upload of %s failed: %w", name, err)
	}
	return nil
}

func (s *s3Store) get(ctx context.Context, name string) ([]byte, error) {
	resp, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(name)),
	})
	if err != nil {
		return nil, fmt.Errorf("archive download of %s failed: %w", name, err)
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}
