package conn

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yanun0323/go-autotrader/pkg/exception"
)

func TestOptionDSN(t *testing.T) {
	testCases := []struct {
		desc     string
		opt      Option
		expected string
		err      error
	}{
		{
			desc:     "conn string wins",
			opt:      Option{ConnString: "postgres://a@b/c", Database: "ignored"},
			expected: "postgres://a@b/c",
		},
		{
			desc:     "defaults",
			opt:      Option{Database: "autotrader"},
			expected: "postgres://localhost:5432/autotrader?sslmode=disable",
		},
		{
			desc:     "credentials and params",
			opt:      Option{Host: "db", Port: 6543, User: "bot", Password: "pw", Database: "autotrader", SSLMode: "require", Params: map[string]string{"application_name": "trader", "": "x"}},
			expected: "postgres://bot:pw@db:6543/autotrader?application_name=trader&sslmode=require",
		},
		{
			desc: "no database",
			opt:  Option{Host: "db"},
			err:  exception.ErrEmptyDSN,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			dsn, err := tc.opt.dsn()
			if tc.err != nil {
				assert.ErrorIs(t, err, tc.err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.expected, dsn)
		})
	}
}

func TestOptionDefaults(t *testing.T) {
	opt := Option{MaxOpenConns: 3}.withDefaults()
	assert.Equal(t, 3, opt.MaxOpenConns)
	assert.Equal(t, defaultMaxIdleConns, opt.MaxIdleConns)
	assert.Equal(t, defaultConnMaxLifetime, opt.ConnMaxLifetime)
}
