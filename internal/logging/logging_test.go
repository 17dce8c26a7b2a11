package logging

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestInit(t *testing.T) {
	tests := []struct {
		level  string
		format string
		want   logrus.Level
		json   bool
	}{
		{"debug", "text", logrus.DebugLevel, false},
		{"WARN", "json", logrus.WarnLevel, true},
		{"nonsense", "", logrus.InfoLevel, false},
	}
	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			Init(tt.level, tt.format)
			assert.Equal(t, tt.want, Logger.GetLevel())
			_, isJSON := Logger.Formatter.(*logrus.JSONFormatter)
			assert.Equal(t, tt.json, isJSON)
		})
	}
}

func TestComponent(t *testing.T) {
	entry := Component("ledger")
	assert.Equal(t, "ledger", entry.Data["component"])
}
