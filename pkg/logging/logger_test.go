package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
)

func captureLogger(level logrus.Level) *bytes.Buffer {
	var buf bytes.Buffer
	Logger = logrus.New()
	Logger.SetOutput(&buf)
	Logger.SetLevel(level)
	Logger.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})
	return &buf
}

func TestInit(t *testing.T) {
	tests := []struct {
		name    string
		opts    Options
		want    logrus.Level
		wantErr bool
	}{
		{name: "debug level", opts: Options{Level: "debug"}, want: logrus.DebugLevel},
		{name: "upper case level", opts: Options{Level: "WARN"}, want: logrus.WarnLevel},
		{name: "error level", opts: Options{Level: "error"}, want: logrus.ErrorLevel},
		{name: "unknown level defaults to info", opts: Options{Level: "loud"}, want: logrus.InfoLevel},
		{name: "json format", opts: Options{Level: "info", Format: "json"}, want: logrus.InfoLevel},
		{name: "bad format", opts: Options{Level: "info", Format: "xml"}, want: logrus.InfoLevel, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			Logger = logrus.New()
			err := Init(tt.opts)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Init() error = %v, wantErr %v", err, tt.wantErr)
			}
			if Logger.GetLevel() != tt.want {
				t.Errorf("level = %v, want %v", Logger.GetLevel(), tt.want)
			}
		})
	}
}

func TestInit_JSONFormatter(t *testing.T) {
	Logger = logrus.New()
	if err := Init(Options{Format: "json"}); err != nil {
		t.Fatal(err)
	}
	if _, ok := Logger.Formatter.(*logrus.JSONFormatter); !ok {
		t.Errorf("expected JSON formatter, got %T", Logger.Formatter)
	}
}

func TestInit_CreatesNestedLogFile(t *testing.T) {
	Logger = logrus.New()
	logFile := filepath.Join(t.TempDir(), "scan", "nested", "facesweep.log")

	if err := Init(Options{Level: "info", File: logFile}); err != nil {
		t.Fatalf("Init with log file failed: %v", err)
	}
	Info("scan started")

	data, err := os.ReadFile(logFile)
	if err != nil {
		t.Fatalf("log file was not created: %v", err)
	}
	if !strings.Contains(string(data), "scan started") {
		t.Errorf("log file missing message: %q", data)
	}
}

func TestValidLevel(t *testing.T) {
	for _, lvl := range []string{"debug", "info", "warn", "error", "Info"} {
		if !ValidLevel(lvl) {
			t.Errorf("ValidLevel(%q) = false", lvl)
		}
	}
	if ValidLevel("trace") {
		t.Error("trace should not be a valid level")
	}
}

func TestSetLevel_IgnoresUnknown(t *testing.T) {
	captureLogger(logrus.WarnLevel)
	SetLevel("debug")
	if Logger.GetLevel() != logrus.DebugLevel {
		t.Fatalf("expected debug, got %v", Logger.GetLevel())
	}
	SetLevel("nonsense")
	if Logger.GetLevel() != logrus.DebugLevel {
		t.Errorf("unknown level changed logger to %v", Logger.GetLevel())
	}
}

func TestComponent(t *testing.T) {
	buf := captureLogger(logrus.InfoLevel)

	Component("batch").WithFields(Fields{"image": "a.jpg", "class": "matched"}).Info("classified")

	out := buf.String()
	for _, want := range []string{"component=batch", "image=a.jpg", "class=matched", "classified"} {
		if !strings.Contains(out, want) {
			t.Errorf("output %q missing %q", out, want)
		}
	}
}

func TestLevelFiltering(t *testing.T) {
	buf := captureLogger(logrus.ErrorLevel)

	Debugf("debug %d", 1)
	Infof("info %d", 2)
	Warnf("warn %d", 3)
	if buf.Len() > 0 {
		t.Errorf("messages below error level were logged: %q", buf.String())
	}

	Errorf("error %d", 4)
	if !strings.Contains(buf.String(), "error 4") {
		t.Error("error should be logged at error level")
	}
}

func TestWithError(t *testing.T) {
	buf := captureLogger(logrus.ErrorLevel)

	WithError(os.ErrNotExist).Error("reading gallery image")

	if !strings.Contains(buf.String(), os.ErrNotExist.Error()) {
		t.Errorf("error not in output: %q", buf.String())
	}
}

func BenchmarkComponent(b *testing.B) {
	Logger = logrus.New()
	Logger.SetOutput(&bytes.Buffer{})

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		Component("batch").WithField("image", i).Info("classified")
	}
}
