package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/marmos91/gridfsmigrate/pkg/ledger"
	"github.com/marmos91/gridfsmigrate/pkg/source"
	srcmemory "github.com/marmos91/gridfsmigrate/pkg/source/memory"
	"github.com/marmos91/gridfsmigrate/pkg/target"
)

// plainSource hides the optional UniqueIDProvider capability.
type plainSource struct {
	source.Source
}

func TestCreateTarget_Filesystem(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "uploads")
	cfg := &TargetConfig{
		Type: "filesystem",
		Filesystem: map[string]any{
			"path":       dir,
			"create_dir": true,
		},
	}

	tgt, err := CreateTarget(ctx, cfg, nil)
	if err != nil {
		t.Fatalf("Failed to create filesystem target: %v", err)
	}
	defer func() { _ = tgt.Close() }()

	if tgt.Kind() != target.KindFileSystem {
		t.Errorf("Expected filesystem kind, got %s", tgt.Kind())
	}
	if _, err := os.Stat(dir); err != nil {
		t.Errorf("Expected destination directory to be created: %v", err)
	}
}

func TestCreateTarget_FilesystemMissingPath(t *testing.T) {
	cfg := &TargetConfig{
		Type:       "filesystem",
		Filesystem: map[string]any{},
	}

	_, err := CreateTarget(context.Background(), cfg, nil)
	if err == nil {
		t.Fatal("Expected error for missing path")
	}
	if !strings.Contains(err.Error(), "path is required") {
		t.Errorf("Expected 'path is required' error, got: %v", err)
	}
}

func TestCreateTarget_FilesystemWeakTyping(t *testing.T) {
	// Values arriving from flags or the environment are strings.
	cfg := &TargetConfig{
		Type: "filesystem",
		Filesystem: map[string]any{
			"path":       t.TempDir(),
			"create_dir": "true",
			"file_mode":  "420",
		},
	}

	tgt, err := CreateTarget(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("Failed to create filesystem target from string options: %v", err)
	}
	_ = tgt.Close()
}

func TestCreateTarget_S3MissingBucket(t *testing.T) {
	cfg := &TargetConfig{
		Type: "s3",
		S3:   map[string]any{"region": "us-east-1"},
	}

	_, err := CreateTarget(context.Background(), cfg, srcmemory.NewMemorySource())
	if err == nil || !strings.Contains(err.Error(), "bucket is required") {
		t.Fatalf("Expected 'bucket is required' error, got: %v", err)
	}
}

func TestCreateTarget_S3MissingRegion(t *testing.T) {
	cfg := &TargetConfig{
		Type: "s3",
		S3:   map[string]any{"bucket": "uploads"},
	}

	_, err := CreateTarget(context.Background(), cfg, srcmemory.NewMemorySource())
	if err == nil || !strings.Contains(err.Error(), "region is required") {
		t.Fatalf("Expected 'region is required' error, got: %v", err)
	}
}

func TestCreateTarget_S3UniqueID(t *testing.T) {
	cfg := &TargetConfig{
		Type: "s3",
		S3:   map[string]any{"bucket": "uploads", "region": "us-east-1"},
	}

	t.Run("SourceWithoutProvider", func(t *testing.T) {
		_, err := CreateTarget(context.Background(), cfg, plainSource{})
		if err == nil || !strings.Contains(err.Error(), "unique_id is required") {
			t.Fatalf("Expected 'unique_id is required' error, got: %v", err)
		}
	})

	t.Run("ProviderFails", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := CreateTarget(ctx, cfg, srcmemory.NewMemorySource())
		if err == nil || !strings.Contains(err.Error(), "installation unique id") {
			t.Fatalf("Expected unique id lookup error, got: %v", err)
		}
	})

	t.Run("ProviderReturnsEmpty", func(t *testing.T) {
		// The id is checked before any request reaches the bucket.
		_, err := CreateTarget(context.Background(), cfg, srcmemory.NewMemorySource())
		if err == nil || !strings.Contains(err.Error(), "unique id is required") {
			t.Fatalf("Expected empty unique id to be rejected, got: %v", err)
		}
	})
}

func TestCreateTarget_UnknownType(t *testing.T) {
	_, err := CreateTarget(context.Background(), &TargetConfig{Type: "gcs"}, nil)
	if err == nil || !strings.Contains(err.Error(), "unknown target type") {
		t.Fatalf("Expected unknown type error, got: %v", err)
	}
}

func TestCreateSource_UnknownType(t *testing.T) {
	_, err := CreateSource(context.Background(), &SourceConfig{Type: "postgres"})
	if err == nil || !strings.Contains(err.Error(), "unknown source type") {
		t.Fatalf("Expected unknown type error, got: %v", err)
	}
}

func TestCreateSource_MongoMissingHost(t *testing.T) {
	_, err := CreateSource(context.Background(), &SourceConfig{Type: "mongo", Mongo: map[string]any{"database": "rocketchat"}})
	if err == nil || !strings.Contains(err.Error(), "uri or host is required") {
		t.Fatalf("Expected missing host error, got: %v", err)
	}
}

func TestCreateSource_MongoBadOptions(t *testing.T) {
	_, err := CreateSource(context.Background(), &SourceConfig{Type: "mongo", Mongo: map[string]any{"host": "db", "port": "not-a-port"}})
	if err == nil || !strings.Contains(err.Error(), "decode mongo source config") {
		t.Fatalf("Expected decode error, got: %v", err)
	}
}

func TestCreateLedger(t *testing.T) {
	ctx := context.Background()

	for _, typ := range []string{"file", "badger"} {
		t.Run(typ, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "ledger")
			l, err := CreateLedger(ctx, &LedgerConfig{Type: typ, Path: path})
			if err != nil {
				t.Fatalf("Failed to create %s ledger: %v", typ, err)
			}
			defer func() { _ = l.Close() }()

			if err := l.Append(ctx, ledger.Entry{FileID: "a", Status: ledger.StatusPending}); err != nil {
				t.Fatalf("Append failed: %v", err)
			}
			if e, ok := l.Get("a"); !ok || e.Status != ledger.StatusPending {
				t.Errorf("Expected Pending entry, got %+v %v", e, ok)
			}
		})
	}
}

func TestCreateLedger_Errors(t *testing.T) {
	ctx := context.Background()

	if _, err := CreateLedger(ctx, &LedgerConfig{Type: "file"}); err == nil {
		t.Error("Expected error for empty path")
	}
	if _, err := CreateLedger(ctx, &LedgerConfig{Type: "sqlite", Path: t.TempDir()}); err == nil {
		t.Error("Expected error for unknown ledger type")
	}
}
