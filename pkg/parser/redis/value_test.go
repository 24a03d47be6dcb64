// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package redis

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCommand(t *testing.T) {
	cases := []struct {
		name     string
		in       string
		consumed int
		want     Value
	}{
		{
			name:     "multibulk",
			in:       "*3\r\n$3\r\nSET\r\n$3\r\nfoo\r\n$3\r\nbar\r\n",
			consumed: len("*3\r\n$3\r\nSET\r\n$3\r\nfoo\r\n$3\r\nbar\r\n"),
			want:     NewCommand("SET", "foo", "bar"),
		},
		{
			name:     "multibulk followed by next command",
			in:       "*1\r\n$4\r\nPING\r\n*1\r\n$4\r\nPI",
			consumed: len("*1\r\n$4\r\nPING\r\n"),
			want:     NewCommand("PING"),
		},
		{
			name:     "inline",
			in:       "get foo\r\n",
			consumed: len("get foo\r\n"),
			want:     NewCommand("get", "foo"),
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			v, n, err := ParseCommand([]byte(tc.in))
			require.NoError(t, err)
			assert.Equal(t, tc.consumed, n)
			assert.True(t, tc.want.Equal(v), "got %s", v)
		})
	}
}

func TestParseCommandIncomplete(t *testing.T) {
	for _, in := range []string{"", "*2\r\n$3\r\nGET\r\n", "*1\r\n$4\r\nPI", "PING"} {
		_, n, err := ParseCommand([]byte(in))
		assert.NoError(t, err, in)
		assert.Zero(t, n, in)
	}
}

func TestParseCommandMalformed(t *testing.T) {
	for _, in := range []string{"*x\r\n", "*1\r\n+PING\r\n", "*1\n"} {
		_, _, err := ParseCommand([]byte(in))
		assert.ErrorIs(t, err, ErrMalformed, in)
	}
}

func TestParseReply(t *testing.T) {
	cases := []struct {
		in   string
		want Value
	}{
		{"+OK\r\n", NewString("OK")},
		{"-ERR unknown command\r\n", NewError("ERR unknown command")},
		{":42\r\n", NewInteger(42)},
		{"$5\r\nhello\r\n", NewBulk([]byte("hello"))},
		{"$0\r\n\r\n", NewBulk([]byte{})},
		{"$-1\r\n", Value{Kind: Null}},
		{"*-1\r\n", Value{Kind: NullArray}},
		{"*2\r\n:1\r\n*1\r\n$1\r\nx\r\n", NewArray(NewInteger(1), NewArray(NewBulk([]byte("x"))))},
	}

	for _, tc := range cases {
		v, n, err := ParseReply([]byte(tc.in))
		require.NoError(t, err, tc.in)
		assert.Equal(t, len(tc.in), n, tc.in)
		assert.Equal(t, tc.want.Kind, v.Kind, tc.in)
		assert.Equal(t, tc.in, string(v.Bytes()), tc.in)
	}
}

func TestParseReplyIncompleteAndMalformed(t *testing.T) {
	for _, in := range []string{"", "+OK", "$5\r\nhel", "*2\r\n:1\r\n"} {
		_, n, err := ParseReply([]byte(in))
		assert.NoError(t, err, in)
		assert.Zero(t, n, in)
	}

	_, _, err := ParseReply([]byte("%2\r\n"))
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestValueString(t *testing.T) {
	assert.Equal(t, "[SET, foo, bar]", NewCommand("SET", "foo", "bar").String())
	assert.Equal(t, "(error) ERR", NewError("ERR").String())
	assert.Equal(t, "7", NewInteger(7).String())
	assert.Equal(t, "(nil)", Value{Kind: Null}.String())
	assert.Equal(t, "array", Array.String())
}
