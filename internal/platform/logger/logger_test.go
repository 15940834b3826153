package logger

import (
	"strings"
	"testing"
)

func TestSanitizeValueRedactsSecrets(t *testing.T) {
	for _, key := range []string{"jwt_token", "postgres_dsn", "neo4j_password", "authorization"} {
		if got := sanitizeValue(key, "abc"); got != "[REDACTED]" {
			t.Fatalf("%s: want=[REDACTED] got=%v", key, got)
		}
	}
}

func TestSanitizeValueMasksSnippets(t *testing.T) {
	got := sanitizeValue("snippet", "Acme licenses compound X")
	if got != "[SNIPPET len=24]" {
		t.Fatalf("snippet: want=[SNIPPET len=24] got=%v", got)
	}
	nested := sanitizeValue("evidence", map[string]interface{}{"snippet": "abc", "uri": "https://x"})
	m, ok := nested.(map[string]interface{})
	if !ok {
		t.Fatalf("nested: want map got=%T", nested)
	}
	if m["snippet"] != "[SNIPPET len=3]" || m["uri"] != "https://x" {
		t.Fatalf("nested: unexpected %+v", m)
	}
}

func TestSanitizeValueHashesActors(t *testing.T) {
	got, ok := sanitizeValue("created_by", "curator@example.org").(string)
	if !ok || !strings.HasPrefix(got, "hash:") {
		t.Fatalf("created_by: want hash prefix got=%v", got)
	}
	if again := sanitizeValue("created_by", "curator@example.org"); again != got {
		t.Fatalf("hash not stable: %v vs %v", got, again)
	}
}

func TestSanitizeKVsKeepsOddTrailingKey(t *testing.T) {
	out := sanitizeKVs([]interface{}{"source", "chembl", "dangling"})
	if len(out) != 3 || out[2] != "dangling" {
		t.Fatalf("kvs: unexpected %+v", out)
	}
}
