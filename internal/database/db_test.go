package database

import (
	"strings"
	"testing"

	"github.com/EmekaIwuagwu/metabridge-relayer/internal/config"
)

func TestConnString(t *testing.T) {
	got := ConnString(&config.DatabaseConfig{
		Host:     "localhost",
		Port:     5433,
		Database: "bridge",
		Username: "relayer",
		Password: "it's a secret",
		SSLMode:  "require",
	})

	want := `host=localhost port=5433 user=relayer password='it\'s a secret' dbname=bridge sslmode=require`
	if got != want {
		t.Errorf("ConnString() = %q, want %q", got, want)
	}
}

func TestConnString_Defaults(t *testing.T) {
	got := ConnString(&config.DatabaseConfig{Host: "db", Database: "bridge", Username: "relayer"})

	if !strings.Contains(got, "port=5432") {
		t.Errorf("Expected default port in %q", got)
	}
	if !strings.Contains(got, "sslmode=disable") {
		t.Errorf("Expected default sslmode in %q", got)
	}
	if !strings.Contains(got, "password=''") {
		t.Errorf("Expected empty password to be quoted in %q", got)
	}
}

func TestSchemaDefinesSettlements(t *testing.T) {
	for _, column := range []string{"message_id", "job_id", "signatures", "relayer_id", "status"} {
		if !strings.Contains(Schema, column) {
			t.Errorf("Schema is missing column %s", column)
		}
	}
}
