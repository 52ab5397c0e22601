package journal

import (
	"strings"
	"testing"
)

// 2024-01-01T00:00:00Z, the start of the journaltest clock.
const clockStart = uint32(1704067200)

func TestSegmentName_RoundTrip(t *testing.T) {
	tests := []struct {
		prefix, suffix string
		seq, ts        uint32
		id             uint64
		name           string
	}{
		{"j", ".wal", 1, clockStart, 1, "j000000000001-20240101T000000-0000000000000001.wal"},
		{"j", ".wal", 2, clockStart + 1, 2, "j000000000002-20240101T000001-0000000000000002.wal"},
		{"history-", ".jrnl", 42, clockStart + 3600, 0x1f4, "history-000000000042-20240101T010000-00000000000001f4.jrnl"},
		{"", ".jrnl", 7, clockStart + 86400, 0xdeadbeef, "000000000007-20240102T000000-00000000deadbeef.jrnl"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			name := formatSegmentName(tt.prefix, tt.suffix, tt.seq, tt.ts, tt.id)
			if name != tt.name {
				t.Fatalf("name = %q, expected %q", name, tt.name)
			}
			bare := strings.TrimSuffix(strings.TrimPrefix(name, tt.prefix), tt.suffix)
			seq, ts, id, err := parseSegmentName(bare)
			if err != nil {
				t.Fatal(err)
			}
			if seq != tt.seq || ts != tt.ts || id != tt.id {
				t.Errorf("parsed %d, %d, %x, expected %d, %d, %x", seq, ts, id, tt.seq, tt.ts, tt.id)
			}
		})
	}
}

func TestParseSegmentName_Invalid(t *testing.T) {
	for _, name := range []string{
		"",
		"000000000001",
		"x01-20240101T000000-0000000000000001",
		"000000000001-2024-01-01-0000000000000001",
		"000000000001-20240101T000000",
		"000000000001-20240101T000000-history",
	} {
		if _, _, _, err := parseSegmentName(name); err == nil {
			t.Errorf("parseSegmentName(%q) succeeded", name)
		}
	}
}
