package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Name string `json:"name" msgpack:"name"`
	Age  int    `json:"age" msgpack:"age"`
}

func TestSerializersPreserveStructs(t *testing.T) {
	for _, format := range []string{"json", "msgpack"} {
		t.Run(format, func(t *testing.T) {
			serializer, err := GetSerializer(format)
			require.NoError(t, err)

			data, err := serializer.Marshal(sample{Name: "John", Age: 30})
			require.NoError(t, err)
			require.NotEmpty(t, data)

			var out sample
			require.NoError(t, serializer.Unmarshal(data, &out))
			assert.Equal(t, sample{Name: "John", Age: 30}, out)
		})
	}
}

func TestGetSerializer(t *testing.T) {
	tests := []struct {
		format string
		valid  bool
	}{
		{"json", true},
		{"", true},
		{"msgpack", true},
		{"invalid", false},
	}

	for _, test := range tests {
		serializer, err := GetSerializer(test.format)
		if test.valid {
			assert.NoError(t, err, test.format)
			assert.NotNil(t, serializer, test.format)
		} else {
			assert.Error(t, err, test.format)
		}
	}
}

func TestJSONSerializerRejectsGarbage(t *testing.T) {
	var out sample
	assert.Error(t, NewJSONSerializer().Unmarshal([]byte("{not json"), &out))
}
