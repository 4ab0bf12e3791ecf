package storage

import (
	"errors"
	"fmt"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestS3Key(t *testing.T) {
	cases := []struct {
		path string
		want string
	}{
		{"s3://lake/tbl/p=1/a.parquet", "tbl/p=1/a.parquet"},
		{"s3a://lake/tbl/a.parquet", "tbl/a.parquet"},
		{"tbl/a.parquet", "tbl/a.parquet"},
		{"/tbl/a.parquet", "tbl/a.parquet"},
	}
	for _, tc := range cases {
		got, err := s3Key("lake", tc.path)
		require.NoError(t, err, tc.path)
		assert.Equal(t, tc.want, got, tc.path)
	}

	_, err := s3Key("lake", "s3://other/tbl/a.parquet")
	assert.True(t, errors.Is(err, ErrForeignObject))
	_, err = s3Key("lake", "gs://lake/tbl/a.parquet")
	assert.True(t, errors.Is(err, ErrForeignObject))
}

func TestIsMissing(t *testing.T) {
	assert.True(t, isMissing(fmt.Errorf("head: %w", &types.NotFound{})))
	assert.True(t, isMissing(&types.NoSuchKey{}))
	assert.False(t, isMissing(errors.New("access denied")))
}
