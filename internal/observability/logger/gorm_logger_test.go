package logger

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	gormlogger "gorm.io/gorm/logger"
)

func TestOperationFromSQL(t *testing.T) {
	cases := map[string]string{
		"SELECT 1":                                   "SELECT",
		"  insert into sessions (id) values (?)":     "INSERT",
		"WITH live AS (SELECT 1) UPDATE users SET x": "SELECT",
		"SAVEPOINT sp1":                              "TX",
		"":                                           "UNKNOWN",
	}
	for sql, want := range cases {
		if got := operationFromSQL(sql); got != want {
			t.Fatalf("operationFromSQL(%q) = %q, want %q", sql, got, want)
		}
	}
}

func TestGormLoggerDropsBoundParams(t *testing.T) {
	l := NewGormLogger(zap.NewNop(), DefaultGormLoggerConfig())
	sql, params := l.ParamsFilter(context.Background(), "SELECT * FROM users WHERE email = ?", "a@acme.com")
	if sql != "SELECT * FROM users WHERE email = ?" {
		t.Fatalf("unexpected sql %q", sql)
	}
	if params != nil {
		t.Fatalf("expected params to be dropped, got %v", params)
	}
}

func TestGormLoggerLogsSlowQueries(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	l := NewGormLogger(zap.New(core), GormLoggerConfig{
		Level:         gormlogger.Warn,
		SlowThreshold: time.Millisecond,
	})

	l.Trace(context.Background(), time.Now().Add(-time.Second), func() (string, int64) {
		return "SELECT * FROM sessions", 1
	}, nil)

	entries := logs.FilterMessage("gorm.query").All()
	if len(entries) != 1 {
		t.Fatalf("expected one slow query entry, got %d", len(entries))
	}
	if entries[0].Level != zap.WarnLevel {
		t.Fatalf("expected warn level, got %s", entries[0].Level)
	}
}
