package convert

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBytesToGiB(t *testing.T) {
	assert.Equal(t, 0.0, BytesToGiB(0))
	assert.Equal(t, 0.0, BytesToGiB(-5))
	assert.Equal(t, 1.0, BytesToGiB(1<<30))
	assert.Equal(t, 15.51, BytesToGiB(16655417344))
}

func TestKilobytesToTB(t *testing.T) {
	assert.Equal(t, 0.0, KilobytesToTB(0))
	// 12 TB array reported in KiB.
	assert.Equal(t, 10.91, KilobytesToTB(11718885376))
}

func TestSectorsToTB(t *testing.T) {
	assert.Equal(t, 0.0, SectorsToTB(0))
	// 4 TB parity disk: 3907018532 sectors of 1024 bytes.
	assert.Equal(t, 4.0, SectorsToTB(3907018532))
}

func TestMillidegreesToCelsius(t *testing.T) {
	assert.Equal(t, 42.5, MillidegreesToCelsius(42500))
	assert.Equal(t, 96.0, MillidegreesToCelsius(96000))
	assert.Equal(t, 0.0, MillidegreesToCelsius(0))
}

func TestPercent(t *testing.T) {
	assert.Equal(t, 0.0, Percent(10, 0))
	assert.Equal(t, 50.0, Percent(5, 10))
	assert.Equal(t, 33.33, Percent(1, 3))
}
