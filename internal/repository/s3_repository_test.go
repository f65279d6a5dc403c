package repository

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"detectweb/internal/config"
)

func TestEndpointURL(t *testing.T) {
	assert.Equal(t, "http://localhost:9000", endpointURL(&config.S3Config{Endpoint: "localhost:9000"}))
	assert.Equal(t, "https://s3.example.com", endpointURL(&config.S3Config{Endpoint: "s3.example.com", UseSSL: true}))
}
