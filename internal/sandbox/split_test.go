package sandbox_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"mongorunner/internal/sandbox"
)

func TestSplitStatements(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want []string
	}{
		{
			name: "empty",
			src:  "  \n ",
			want: nil,
		},
		{
			name: "comments and empty statements dropped",
			src:  "// header\ndb.collection('a').find()\n/* note */\ndb.collection('b').find({x: 1});;\n",
			want: []string{"db.collection('a').find()", "db.collection('b').find({x: 1})"},
		},
		{
			name: "multi-line statement kept whole",
			src:  "db.collection('a').aggregate([\n  {$match: {}}\n])\n",
			want: []string{"db.collection('a').aggregate([\n  {$match: {}}\n])"},
		},
		{
			name: "declarations",
			src:  "const n = 1\nn + 1",
			want: []string{"const n = 1", "n + 1"},
		},
		{
			name: "top-level await",
			src:  "await db.collection('a').countDocuments()\nawait db.collection('b').countDocuments()",
			want: []string{"await db.collection('a').countDocuments()", "await db.collection('b').countDocuments()"},
		},
		{
			name: "unparseable returned whole",
			src:  "  db.collection(  \n",
			want: []string{"db.collection("},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, sandbox.SplitStatements(tt.src))
		})
	}
}
