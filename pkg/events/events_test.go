package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsSupported_KnownKindsAreAccepted(t *testing.T) {
	assert.True(t, IsSupported(KindProcessCreate))
	assert.True(t, IsSupported(KindWmiBinding))
}

func TestIsSupported_UnknownKindIsRejected(t *testing.T) {
	assert.False(t, IsSupported(Kind(4)))
	assert.False(t, IsSupported(Kind(999)))
}

func TestIsProcessKind(t *testing.T) {
	assert.True(t, IsProcessKind(KindProcessCreate))
	assert.True(t, IsProcessKind(KindProcessTerminate))
	assert.False(t, IsProcessKind(KindNetworkConnect))
}

func TestIsRegistryKind(t *testing.T) {
	assert.True(t, IsRegistryKind(KindRegistryValueSet))
	assert.False(t, IsRegistryKind(KindFileCreate))
}

func TestCriticalKinds_ContainsExpectedSet(t *testing.T) {
	assert.True(t, CriticalKinds[KindProcessAccess])
	assert.True(t, CriticalKinds[KindNamedPipeCreate])
	assert.False(t, CriticalKinds[KindProcessCreate])
}

func TestFileOpKinds_ContainsExpectedSet(t *testing.T) {
	assert.True(t, FileOpKinds[KindFileDelete])
	assert.False(t, FileOpKinds[KindNetworkConnect])
}
