package text

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", Truncate("short", 10))
	assert.Equal(t, "abc...", Truncate("abcdef", 3))
	assert.Equal(t, "unbounded", Truncate("unbounded", 0))
	assert.Equal(t, "熔断器...", Truncate("熔断器已触发", 3))
	assert.Equal(t, "熔断器", Truncate("熔断器", 3))
}
