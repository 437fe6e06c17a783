package warehouse

import (
	"errors"
	"fmt"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
)

func TestClassifyPostgres(t *testing.T) {
	cases := []struct {
		name string
		code pq.ErrorCode
		want Kind
	}{
		{"connection failure", "08006", KindRetryable},
		{"serialization failure", "40001", KindRetryable},
		{"deadlock detected", "40P01", KindRetryable},
		{"too many connections", "53300", KindRetryable},
		{"lock not available", "55P03", KindRetryable},
		{"admin shutdown", "57P01", KindRetryable},
		{"unique violation", "23505", KindFatal},
		{"not null violation", "23502", KindFatal},
		{"undefined column", "42703", KindFatal},
		{"undefined table", "42P01", KindFatal},
		{"invalid text representation", "22P02", KindFatal},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := classifyPostgres(fmt.Errorf("upsert failed: %w", &pq.Error{Code: tc.code}))
			assert.Equal(t, tc.want, Classify(err))
		})
	}
}

func TestClassifyPostgres_NonPQErrorDefaultsRetryable(t *testing.T) {
	err := classifyPostgres(errors.New("connection reset by peer"))
	assert.Equal(t, KindRetryable, Classify(err))
}

func TestClassifyDuckDB(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want Kind
	}{
		{"constraint", errors.New(`Constraint Error: NOT NULL constraint failed`), KindFatal},
		{"conversion", errors.New(`Conversion Error: Could not convert string`), KindFatal},
		{"binder", errors.New(`Binder Error: Referenced column "oops" not found`), KindFatal},
		{"catalog", errors.New(`Catalog Error: Table with name fact_orders does not exist`), KindFatal},
		{"io flake", errors.New(`IO Error: Could not write to file`), KindRetryable},
		{"generic", errors.New(`database is locked`), KindRetryable},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Classify(classifyDuckDB(tc.err)))
		})
	}
}

func TestClassify_UnwrappedErrorDefaultsRetryable(t *testing.T) {
	assert.Equal(t, KindRetryable, Classify(errors.New("who knows")))
}
