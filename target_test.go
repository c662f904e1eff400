package ipmigo

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBMCTarget(t *testing.T) {
	tgt := BMCTarget(2)
	assert.Equal(t, bmcSlaveAddress, tgt.RsAddr())
	assert.Equal(t, remoteSWID, tgt.RqAddr())
	assert.EqualValues(t, 2, tgt.LUN())
	assert.False(t, tgt.IsBridged())
}

func TestBMCOrIPMBTargetCollapsesToBMC(t *testing.T) {
	tgt := BMCOrIPMBTarget(bmcSlaveAddress, 0, 0)
	assert.False(t, tgt.IsBridged())
	assert.Equal(t, bmcSlaveAddress, tgt.RsAddr())
}

func TestBMCOrIPMBTargetBridged(t *testing.T) {
	tgt := BMCOrIPMBTarget(0x52, 1, 0)
	assert.True(t, tgt.IsBridged())
	assert.EqualValues(t, 0x52, tgt.RsAddr())
	assert.EqualValues(t, 1, tgt.Channel())
}

func TestDefaultTarget(t *testing.T) {
	assert.Equal(t, BMCTarget(0), defaultTarget())
}
