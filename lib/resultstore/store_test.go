package resultstore

import (
	"context"
	"testing"
	"time"

	"resultfetch/lib/scrapers/oneview"
	"resultfetch/lib/testutil"

	"github.com/stretchr/testify/require"
)

func TestStore(t *testing.T) {
	setup, cleanup := testutil.SetupService(t, testutil.ServiceParams{
		Name:     "lib/resultstore",
		DbSchema: Schema,
	})
	defer cleanup()
	store := NewStore(setup.DB)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()

	completed, err := store.ListCompleted(ctx)
	require.NoError(t, err)
	require.Empty(t, completed)

	_, err = store.Read(ctx, "2100910100001")
	require.ErrorIs(t, err, ErrNotFound)

	payload := &oneview.ResultPayload{
		University: "Dr. A.P.J. Abdul Kalam Technical University",
		Session:    "2023-24",
		Student: oneview.Student{
			Name:   "RAHUL VERMA",
			RollNo: "2100910100001",
		},
		Subjects: []oneview.SubjectRow{
			{Subject: "COMPILER DESIGN", TotalCredit: 4, EarnedCredit: 4, Grade: "A"},
		},
		Results: oneview.ResultSummary{Description: "PASS", SGPA: 8.5, CGPA: 8.2},
	}
	require.NoError(t, store.Write(ctx, "2100910100001", payload))

	completed, err = store.ListCompleted(ctx)
	require.NoError(t, err)
	require.Contains(t, completed, "2100910100001")

	read, err := store.Read(ctx, "2100910100001")
	require.NoError(t, err)
	require.Equal(t, payload, read)

	// overwriting the same roll number keeps a single row
	payload.Results.SGPA = 9
	require.NoError(t, store.Write(ctx, "2100910100001", payload))
	completed, err = store.ListCompleted(ctx)
	require.NoError(t, err)
	require.Len(t, completed, 1)

	read, err = store.Read(ctx, "2100910100001")
	require.NoError(t, err)
	require.InDelta(t, 9, read.Results.SGPA, 0.001)
}
