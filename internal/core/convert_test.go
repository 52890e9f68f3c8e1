package core

import (
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/stretchr/testify/assert"
)

func TestToPgDate(t *testing.T) {
	want := pgtype.Date{Time: time.Date(2021, 3, 15, 0, 0, 0, 0, time.UTC), Valid: true}

	tests := []struct {
		name  string
		input string
		valid bool
	}{
		{"iso", "2021-03-15", true},
		{"iso with time", "2021-03-15 10:22:01", true},
		{"iso T", "2021-03-15T10:22:01", true},
		{"rfc3339", "2021-03-15T10:22:01Z", true},
		{"slashes ymd", "2021/03/15", true},
		{"eu day first", "15/03/2021", true},
		{"dotted", "15.03.2021", true},
		{"compact", "20210315", true},
		{"empty", "", false},
		{"garbage", "next tuesday", false},
		{"two digit year", "15/03/21", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ToPgDate(tt.input)
			if !tt.valid {
				assert.False(t, got.Valid)
				return
			}
			assert.Equal(t, want, got)
		})
	}
}

func TestToPgBool(t *testing.T) {
	tests := []struct {
		input string
		want  pgtype.Bool
	}{
		{"true", pgtype.Bool{Bool: true, Valid: true}},
		{"TRUE", pgtype.Bool{Bool: true, Valid: true}},
		{" yes ", pgtype.Bool{Bool: true, Valid: true}},
		{"1", pgtype.Bool{Bool: true, Valid: true}},
		{"-1", pgtype.Bool{Bool: true, Valid: true}},
		{"x", pgtype.Bool{Bool: true, Valid: true}},
		{"false", pgtype.Bool{Valid: true}},
		{"0", pgtype.Bool{Valid: true}},
		{"n", pgtype.Bool{Valid: true}},
		{"", pgtype.Bool{}},
		{"maybe", pgtype.Bool{}},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, ToPgBool(tt.input))
		})
	}
}

func TestToPgInt4(t *testing.T) {
	assert.Equal(t, pgtype.Int4{Int32: 42, Valid: true}, ToPgInt4(" 42 "))
	assert.Equal(t, pgtype.Int4{Int32: -3, Valid: true}, ToPgInt4("-3"))
	assert.False(t, ToPgInt4("").Valid)
	assert.False(t, ToPgInt4("4.5").Valid)
	assert.False(t, ToPgInt4("99999999999").Valid)
}

func TestNormalizeKey(t *testing.T) {
	tests := []struct {
		input  string
		want   string
		wantOK bool
	}{
		{"7", "7", true},
		{"007", "7", true},
		{" 12 ", "12", true},
		{"12.0", "12", true},
		{"0", "0", true},
		{"12.5", "", false},
		{"-1", "", false},
		{"abc", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, ok := NormalizeKey(tt.input)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCleanCell(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"  value  ", "value"},
		{`="00123"`, "00123"},
		{`"quoted"`, "quoted"},
		{"'single'", "single"},
		{`"`, `"`},
		{"", ""},
		{`  =" spaced "  `, "spaced"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, CleanCell(tt.input))
		})
	}
}

func TestMakeHeaderIndex(t *testing.T) {
	idx := MakeHeaderIndex([]string{" TableID ", "TableCode", "", "tableid", `"Label"`})

	assert.Equal(t, HeaderIndex{"tableid": 0, "tablecode": 1, "label": 4}, idx)
}
