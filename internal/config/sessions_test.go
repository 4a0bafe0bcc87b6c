package config

import (
	"path/filepath"
	"testing"
	"time"
)

func TestLoadSessionRecordsMissingFileReturnsNil(t *testing.T) {
	records, err := LoadSessionRecords(filepath.Join(t.TempDir(), "sessions.yaml"))
	if err != nil {
		t.Fatalf("LoadSessionRecords: %v", err)
	}
	if records != nil {
		t.Errorf("records = %v, want nil", records)
	}
}

func TestSaveAndLoadSessionRecordsRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "sessions.yaml")
	want := []SessionRecord{
		{SessionID: "s1", WorkingDir: "/home/x", CreatedAt: time.Now().Truncate(time.Second), TerminalType: "claude", Name: "build"},
	}
	if err := SaveSessionRecords(path, want); err != nil {
		t.Fatalf("SaveSessionRecords: %v", err)
	}

	got, err := LoadSessionRecords(path)
	if err != nil {
		t.Fatalf("LoadSessionRecords: %v", err)
	}
	if len(got) != 1 || got[0].SessionID != "s1" || got[0].TerminalType != "claude" {
		t.Fatalf("got = %+v", got)
	}
}

func TestClearSessionRecordsEmptiesList(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.yaml")
	SaveSessionRecords(path, []SessionRecord{{SessionID: "s1"}})

	if err := ClearSessionRecords(path); err != nil {
		t.Fatalf("ClearSessionRecords: %v", err)
	}
	got, err := LoadSessionRecords(path)
	if err != nil {
		t.Fatalf("LoadSessionRecords: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("got = %v, want empty", got)
	}
}
