// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package watch

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/telekom/escalation-sync/pkg/codec"
)

type recordingSender struct {
	mu      sync.Mutex
	online  bool
	sent    []codec.Command
	refused int
}

func (s *recordingSender) Send(cmd codec.Command) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.online {
		s.refused++
		return false
	}
	s.sent = append(s.sent, cmd)
	return true
}

func TestReplaceSendsGetStatePerID(t *testing.T) {
	s := &recordingSender{online: true}
	r := NewRegistry(s, nil)

	n := r.Replace([]int64{30, 10, 30, 20, -1, 0})

	assert.Equal(t, 3, n)
	assert.Equal(t, []int64{10, 20, 30}, r.IDs())
	assert.Equal(t, []codec.Command{codec.GetState(10), codec.GetState(20), codec.GetState(30)}, s.sent)
	assert.True(t, r.Contains(20))
	assert.False(t, r.Contains(40))
	assert.Equal(t, 3, r.Len())
}

func TestReplaceDropsPreviousSet(t *testing.T) {
	s := &recordingSender{online: true}
	r := NewRegistry(s, nil)
	r.Replace([]int64{1, 2})
	r.Replace([]int64{3})

	assert.Equal(t, []int64{3}, r.IDs())
	assert.False(t, r.Contains(1))
	assert.Len(t, s.sent, 3)
}

func TestReplaceWhileOfflineKeepsSet(t *testing.T) {
	s := &recordingSender{}
	r := NewRegistry(s, nil)

	assert.Equal(t, 0, r.Replace([]int64{5, 6}))
	assert.Equal(t, 2, s.refused)
	assert.Equal(t, []int64{5, 6}, r.IDs(), "set is kept even though nothing was sent")

	s.online = true
	assert.Equal(t, 2, r.Resync())
	assert.Equal(t, []codec.Command{codec.GetState(5), codec.GetState(6)}, s.sent)
}

func TestIDsReturnsCopy(t *testing.T) {
	r := NewRegistry(&recordingSender{online: true}, nil)
	r.Replace([]int64{1, 2})
	ids := r.IDs()
	ids[0] = 99
	assert.Equal(t, []int64{1, 2}, r.IDs())
}
