package ram

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestFromGB(t *testing.T) {
	var testCases = []struct {
		description string
		gb          float64
		expect      Ram
	}{
		{description: "whole", gb: 32, expect: 3200},
		{description: "fraction", gb: 1.6, expect: 160},
		{description: "rounding", gb: 0.015, expect: 2},
		{description: "zero", gb: 0, expect: 0},
	}
	for _, testCase := range testCases {
		assert.Equal(t, testCase.expect, FromGB(testCase.gb), testCase.description)
	}
}

func TestNoDrift(t *testing.T) {
	total := FromGB(0)
	step := FromGB(0.1)
	for i := 0; i < 100000; i++ {
		total += step
	}
	for i := 0; i < 100000; i++ {
		total -= step
	}
	assert.Equal(t, Ram(0), total)
}

func TestFit(t *testing.T) {
	assert.Equal(t, 4, FromGB(32).Fit(FromGB(8)))
	assert.Equal(t, 1, FromGB(15.99).Fit(FromGB(8)))
	assert.Equal(t, 0, FromGB(8).Fit(0))
	assert.Equal(t, 0, FromGB(-1).Fit(FromGB(1)))
}

func TestCodec(t *testing.T) {
	data, err := json.Marshal(FromGB(1.75))
	require.NoError(t, err)
	assert.Equal(t, "1.75", string(data))

	var decoded Ram
	require.NoError(t, json.Unmarshal([]byte("2.5"), &decoded))
	assert.Equal(t, FromGB(2.5), decoded)

	var holder struct {
		Size Ram `yaml:"size"`
	}
	require.NoError(t, yaml.Unmarshal([]byte("size: 16"), &holder))
	assert.Equal(t, FromGB(16), holder.Size)
	assert.Equal(t, "16.00GB", holder.Size.String())
}
