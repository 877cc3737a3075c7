package logging

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNew_Levels(t *testing.T) {
	var quiet, loud bytes.Buffer

	New(&quiet, false).Debug("hidden", "k", "v")
	New(&quiet, false).Info("shown", "k", "v")
	New(&loud, true).Debug("detail", "k", "v")

	assert.NotContains(t, quiet.String(), "hidden")
	assert.Contains(t, quiet.String(), "msg=shown")
	assert.Contains(t, quiet.String(), "k=v")
	assert.Contains(t, loud.String(), "level=DEBUG")
}

func TestDiscard(t *testing.T) {
	l := Discard()
	assert.False(t, l.Enabled(context.Background(), slog.LevelError))
	l.Error("dropped")
}
