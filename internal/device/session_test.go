package device

import (
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionCounter_Record(t *testing.T) {
	s := NewSessionCounter(DefaultMessageCapacity)
	assert.Empty(t, s.Message())
	assert.Nil(t, s.Snapshot(0))

	assert.Equal(t, uint64(1), s.Record())
	assert.Equal(t, "I have been read 1 times.\n", s.Message())

	s.Record()
	assert.Equal(t, "I have been read 2 times.\n", s.Message())
	assert.Equal(t, uint64(2), s.Count())
}

func TestSessionCounter_Snapshot(t *testing.T) {
	s := NewSessionCounter(DefaultMessageCapacity)
	s.Record()
	msg := "I have been read 1 times.\n"

	tests := []struct {
		name   string
		offset int64
		want   string
	}{
		{name: "from start", offset: 0, want: msg},
		{name: "from middle", offset: 7, want: msg[7:]},
		{name: "last byte", offset: int64(len(msg) - 1), want: "\n"},
		{name: "at end", offset: int64(len(msg)), want: ""},
		{name: "past end", offset: 500, want: ""},
		{name: "negative", offset: -1, want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, string(s.Snapshot(tt.offset)))
		})
	}
}

func TestSessionCounter_SnapshotIsCopy(t *testing.T) {
	s := NewSessionCounter(DefaultMessageCapacity)
	s.Record()

	snap := s.Snapshot(0)
	snap[0] = 'X'
	assert.Equal(t, "I have been read 1 times.\n", s.Message())
}

func TestSessionCounter_Truncates(t *testing.T) {
	s := NewSessionCounter(10)
	s.Record()
	assert.Equal(t, "I have bee", s.Message())
	assert.Len(t, s.Snapshot(0), 10)
}

func TestSessionCounter_ConcurrentRecordAndRead(t *testing.T) {
	s := NewSessionCounter(DefaultMessageCapacity)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for n := 0; n < 100; n++ {
				s.Record()
			}
		}()
		go func() {
			defer wg.Done()
			for n := 0; n < 100; n++ {
				msg := string(s.Snapshot(0))
				if msg != "" {
					assert.True(t, strings.HasPrefix(msg, "I have been read "))
					assert.True(t, strings.HasSuffix(msg, " times.\n"))
				}
			}
		}()
	}
	wg.Wait()

	require.Equal(t, uint64(800), s.Count())
	assert.Equal(t, "I have been read 800 times.\n", s.Message())
}
