package version

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAgentString(t *testing.T) {
	assert.True(t, strings.HasPrefix(AgentString(), "feedguard/v"))
	assert.True(t, strings.HasSuffix(AgentString(), Version))
}
