package kafka

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseBrokers(t *testing.T) {
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, parseBrokers("kafka-1:9092, kafka-2:9092"))
	assert.Equal(t, []string{"localhost:9092"}, parseBrokers("localhost:9092"))
	assert.Nil(t, parseBrokers(""))
	assert.Nil(t, parseBrokers(" , "))
}
