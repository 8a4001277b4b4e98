package database

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCreateConnectionString(t *testing.T) {
	s := CreateConnectionString(map[string]string{
		"user":     "bm",
		"host":     "db",
		"password": `it's\secret`,
	})
	assert.Equal(t, `host='db' password='it\'s\\secret' user='bm'`, s)
}
