package logging_test

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/m-mizutani/gt"

	"github.com/becomeliminal/nim-assistant/logging"
)

func TestNew_FansOutToConsoleAndFile(t *testing.T) {
	var console, file bytes.Buffer
	logger, err := logging.New(logging.Options{Level: "debug", Console: &console, File: &file})
	gt.NoError(t, err).Required()

	logging.Component(logger, "memory").Debug("stored", "count", 3)

	gt.String(t, console.String()).Contains("component=memory")
	gt.String(t, console.String()).Contains("count=3")

	var line map[string]any
	gt.NoError(t, json.Unmarshal(file.Bytes(), &line)).Required()
	gt.Value(t, line["msg"]).Equal(any("stored"))
	gt.Value(t, line["component"]).Equal(any("memory"))
}

func TestNew_RespectsLevel(t *testing.T) {
	var console bytes.Buffer
	logger, err := logging.New(logging.Options{Level: "warning", Console: &console})
	gt.NoError(t, err).Required()

	logger.Info("hidden")
	logger.Warn("shown")

	gt.Bool(t, bytes.Contains(console.Bytes(), []byte("hidden"))).False()
	gt.String(t, console.String()).Contains("shown")
}

func TestNew_RejectsUnknownLevel(t *testing.T) {
	_, err := logging.New(logging.Options{Level: "chatty"})
	gt.Value(t, err).NotNil()
}

func TestFromContext(t *testing.T) {
	var buf bytes.Buffer
	logger, err := logging.New(logging.Options{Console: &buf})
	gt.NoError(t, err).Required()

	ctx := logging.With(context.Background(), logger)
	logging.From(ctx).Info("via context")
	gt.String(t, buf.String()).Contains("via context")

	gt.Value(t, logging.From(context.Background())).NotNil()
}
