package api

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/threadwell-app/threadwell/internal/config"
)

func TestFiberConfigKeepsStreamsUnbounded(t *testing.T) {
	cfg := &config.Config{
		Server: config.ServerConfig{
			Address:     ":3001",
			ReadTimeout: 15 * time.Second,
			IdleTimeout: 60 * time.Second,
			BodyLimit:   1024 * 1024,
		},
	}

	fc := newFiberConfig(cfg)

	// WriteTimeout bounds the whole response, which for an event stream is
	// the whole connection. It must never be set.
	assert.Zero(t, fc.WriteTimeout)
	assert.Equal(t, 15*time.Second, fc.ReadTimeout)
	assert.Equal(t, 60*time.Second, fc.IdleTimeout)
	assert.Equal(t, 1024*1024, fc.BodyLimit)
}
