package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadIncludesRetrievalDefaults(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("VECTOR_BACKEND", "")
	t.Setenv("LEXICAL_BACKEND", "")
	t.Setenv("PARENT_BOOST", "")
	t.Setenv("K_DENSE", "")
	t.Setenv("RERANK_TIMEOUT", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.VectorBackend != VectorBackendQdrant {
		t.Fatalf("expected default vector backend qdrant, got %q", cfg.VectorBackend)
	}
	if cfg.LexicalBackend != LexicalBackendQdrant {
		t.Fatalf("expected default lexical backend qdrant, got %q", cfg.LexicalBackend)
	}
	if cfg.ParentBoost != 0.1 {
		t.Fatalf("expected default parent boost 0.1, got %v", cfg.ParentBoost)
	}
	if cfg.KDense != 20 {
		t.Fatalf("expected default k dense 20, got %d", cfg.KDense)
	}
	if cfg.RerankTimeout != 5*time.Second {
		t.Fatalf("expected default rerank timeout 5s, got %s", cfg.RerankTimeout)
	}
}

func TestLoadParsesEnvOverrides(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("VECTOR_BACKEND", "PGVector")
	t.Setenv("LEXICAL_BACKEND", "qdrant")
	t.Setenv("PARENT_BOOST", "0.25")
	t.Setenv("K_LEXICAL", "40")
	t.Setenv("DENSE_TIMEOUT", "750ms")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,,")
	t.Setenv("BREAKER_ENABLED", "false")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.VectorBackend != VectorBackendPGVector || cfg.LexicalBackend != LexicalBackendQdrant {
		t.Fatalf("unexpected backends: %q %q", cfg.VectorBackend, cfg.LexicalBackend)
	}
	if cfg.ParentBoost != 0.25 || cfg.KLexical != 40 {
		t.Fatalf("unexpected retrieval overrides: boost=%v k_lexical=%d", cfg.ParentBoost, cfg.KLexical)
	}
	if cfg.DenseTimeout != 750*time.Millisecond {
		t.Fatalf("expected dense timeout 750ms, got %s", cfg.DenseTimeout)
	}
	if len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[1] != "k2:9092" {
		t.Fatalf("unexpected kafka brokers: %v", cfg.KafkaBrokers)
	}
	if cfg.BreakerEnabled {
		t.Fatalf("expected breaker disabled")
	}
}

func TestLoadReadsYAMLFileBelowEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := strings.Join([]string{
		"qdrant_collection: from_file",
		"chunk_size: 1200",
		"rerank_timeout: 2s",
		"kafka_brokers: [a:9092]",
	}, "\n")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config file: %v", err)
	}
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("QDRANT_COLLECTION", "")
	t.Setenv("KAFKA_BROKERS", "")
	t.Setenv("RERANK_TIMEOUT", "")
	t.Setenv("CHUNK_SIZE", "1500")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.QdrantCollection != "from_file" {
		t.Fatalf("expected collection from file, got %q", cfg.QdrantCollection)
	}
	if cfg.RerankTimeout != 2*time.Second {
		t.Fatalf("expected rerank timeout from file, got %s", cfg.RerankTimeout)
	}
	if cfg.ChunkSize != 1500 {
		t.Fatalf("expected env to override file chunk size, got %d", cfg.ChunkSize)
	}
	if len(cfg.KafkaBrokers) != 1 || cfg.KafkaBrokers[0] != "a:9092" {
		t.Fatalf("unexpected kafka brokers: %v", cfg.KafkaBrokers)
	}
}

func TestLoadRejectsUnknownBackend(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("VECTOR_BACKEND", "milvus")

	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "VECTOR_BACKEND") {
		t.Fatalf("expected VECTOR_BACKEND validation error, got %v", err)
	}
}

func TestValidateChunkOverlap(t *testing.T) {
	cfg := defaults()
	cfg.ChunkOverlap = cfg.ChunkSize
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected overlap validation error")
	}
}
