package engine

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCompilePatternSemantics(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		pattern string
		key     string
		want    bool
		wantErr bool
	}{
		{name: "exact literal", pattern: "proj:A", key: "proj:A", want: true},
		{name: "literal does not prefix", pattern: "proj:A", key: "proj:AB", want: false},
		{name: "wildcard prefix", pattern: "proj-*", key: "proj-api", want: true},
		{name: "wildcard matches bare prefix", pattern: "proj-*", key: "proj-", want: true},
		{name: "wildcard is not regex star", pattern: "proj-*", key: "proj", want: false},
		{name: "wildcard is case sensitive", pattern: "proj-*", key: "PROJ-api", want: false},
		{name: "regex full key", pattern: "com\\.acme:.*-service", key: "com.acme:billing-service", want: true},
		{name: "regex anchored at end", pattern: "com\\.acme:.*-service", key: "com.acme:billing-service-v2", want: false},
		{name: "regex anchored at start", pattern: "acme:.*", key: "com.acme:x", want: false},
		{name: "regex alternation is whole key", pattern: "a|b", key: "ab", want: false},
		{name: "regex alternation branch", pattern: "a|b", key: "b", want: true},
		{name: "dotted wildcard prefix", pattern: "com.acme:*", key: "com.acme:billing", want: true},
		{name: "dotted wildcard without separator", pattern: "com.acme*", key: "com.acme:billing", want: true},
		{name: "dotted wildcard other group", pattern: "com.acme:*", key: "org.acme:billing", want: false},
		{name: "dotted wildcard still regex", pattern: "com.acme:*", key: "comXacme", want: true},
		{name: "regex before trailing star", pattern: "web-.*-api*", key: "web-shop-api", want: true},
		{name: "invalid regex still exact", pattern: "proj[", key: "proj[", want: true, wantErr: true},
		{name: "invalid regex still wildcard", pattern: "proj[*", key: "proj[core", want: true, wantErr: true},
		{name: "invalid regex no other match", pattern: "proj[", key: "proj", want: false, wantErr: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			pattern, err := CompilePattern(tt.pattern)
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
			require.Equal(t, tt.want, pattern.Match(tt.key))
			require.Equal(t, tt.pattern, pattern.String())
		})
	}
}
