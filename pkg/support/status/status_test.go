// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package status

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCategories(t *testing.T) {
	err := NotFoundf("device %d", 99)
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
	assert.False(t, IsInvalidArgument(err))
	assert.Contains(t, err.Error(), "device 99")
	assert.Equal(t, ErrNotFound, Code(err))

	// Wrapping keeps the category.
	wrapped := errors.WithMessage(err, "while looking up")
	assert.True(t, IsNotFound(wrapped))

	assert.True(t, IsInvalidArgument(InvalidArgumentf("bad")))
	assert.True(t, IsUnimplemented(Unimplementedf("nope")))
	assert.True(t, IsInternal(Internalf("bug")))
	assert.Nil(t, Code(errors.New("plain")))
}

func TestAsInternal(t *testing.T) {
	assert.NoError(t, AsInternal(nil, "ignored"))

	err := AsInternal(errors.New("boom"), "pass %q", "dce")
	assert.True(t, IsInternal(err))
	assert.Contains(t, err.Error(), `pass "dce"`)
	assert.Contains(t, err.Error(), "boom")

	// Already categorized errors keep their category.
	err = AsInternal(NotFoundf("x"), "context")
	assert.True(t, IsNotFound(err))
	assert.False(t, IsInternal(err))
}

func TestAsInvalidArgument(t *testing.T) {
	assert.NoError(t, AsInvalidArgument(nil, "ignored"))
	err := AsInvalidArgument(errors.New("bad shape"), "creating %s", "add")
	assert.True(t, IsInvalidArgument(err))
	assert.Contains(t, err.Error(), "creating add: bad shape")
	err = AsInvalidArgument(Unimplementedf("opcode"), "importing")
	assert.True(t, IsUnimplemented(err))
}
