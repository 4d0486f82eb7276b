package textutil

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeName(t *testing.T) {
	require.Equal(t, "grandtotal", NormalizeName(" Grand  Total "))
	require.Equal(t, "grandtotal", NormalizeName("grandtotal"))
	require.Equal(t, "subjectname", NormalizeName("Subject\tName\n"))
	require.Equal(t, "", NormalizeName("  \n\t "))
	// distinct words must stay distinct, normalization only strips noise
	require.NotEqual(t, NormalizeName("total"), NormalizeName("totals"))
}
