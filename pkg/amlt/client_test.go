package amlt_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/3leaps/jobwatch/pkg/amlt"
	"github.com/3leaps/jobwatch/pkg/amlt/amlttest"
)

func TestClientList(t *testing.T) {
	ctrl := gomock.NewController(t)
	src := amlttest.NewMockSource(ctrl)

	src.EXPECT().ListRecent(gomock.Any(), 25).Return(amlttest.ListOutput(
		amlttest.ListRow{Name: "exp-a", Status: "Running (2)"},
		amlttest.ListRow{Name: "exp-b", Status: "Pass (1)"},
	), nil)

	c := amlt.NewClient(src, nil)
	exps := c.List(context.Background(), 25)
	require.Len(t, exps, 2)
	assert.Equal(t, "exp-a", exps[0].ID)
	assert.Equal(t, 2, exps[0].JobCount)
	assert.True(t, exps[1].IsTerminal())
}

func TestClientListFailureIsEmpty(t *testing.T) {
	ctrl := gomock.NewController(t)
	src := amlttest.NewMockSource(ctrl)
	src.EXPECT().ListRecent(gomock.Any(), gomock.Any()).Return("", errors.New("exit status 1"))

	c := amlt.NewClient(src, nil)
	assert.Empty(t, c.List(context.Background(), 10))
}

func TestClientDetail(t *testing.T) {
	ctx := context.Background()

	t.Run("parsed", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		src := amlttest.NewMockSource(ctrl)
		src.EXPECT().StatusDetail(gomock.Any(), "exp-a").Return(amlttest.StatusOutput("exp-a", "c1",
			amlttest.JobRow{Index: 0, Name: "driver", Status: "running"},
			amlttest.JobRow{Index: 1, Name: "worker", Status: "pass"},
		), nil)

		d, err := amlt.NewClient(src, nil).Detail(ctx, "exp-a")
		require.NoError(t, err)
		assert.Equal(t, "exp-a", d.ID)
		assert.Equal(t, "c1", d.Cluster)
		assert.Equal(t, 2, d.JobCount)
		require.Len(t, d.Jobs, 2)
		assert.Equal(t, "running", d.Jobs[0].Status)
	})

	t.Run("fetch failure", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		src := amlttest.NewMockSource(ctrl)
		src.EXPECT().StatusDetail(gomock.Any(), "exp-a").Return("", errors.New("timeout"))

		_, err := amlt.NewClient(src, nil).Detail(ctx, "exp-a")
		require.Error(t, err)
		assert.ErrorIs(t, err, amlt.ErrFetch)
		assert.Contains(t, err.Error(), "timeout")

		var fe *amlt.FetchError
		require.ErrorAs(t, err, &fe)
		assert.Equal(t, "status", fe.Op)
	})

	t.Run("unknown experiment", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		src := amlttest.NewMockSource(ctrl)
		src.EXPECT().StatusDetail(gomock.Any(), "ghost").Return("No experiment named ghost\n", nil)

		_, err := amlt.NewClient(src, nil).Detail(ctx, "ghost")
		assert.ErrorIs(t, err, amlt.ErrNotFound)
		assert.NotErrorIs(t, err, amlt.ErrFetch)
	})
}

func TestClientCancel(t *testing.T) {
	ctrl := gomock.NewController(t)
	src := amlttest.NewMockSource(ctrl)

	idx := 3
	src.EXPECT().Cancel(gomock.Any(), "exp-a", &idx).Return(amlt.CancelResult{OK: false, Stderr: "job already finished"})

	res := amlt.NewClient(src, nil).Cancel(context.Background(), "exp-a", &idx)
	assert.False(t, res.OK)
	assert.Equal(t, "job already finished", res.Stderr)
}

func TestClientOutputDir(t *testing.T) {
	ctrl := gomock.NewController(t)
	src := amlttest.NewMockSource(ctrl)
	gomock.InOrder(
		src.EXPECT().Project(gomock.Any()).Return("DEFAULT_OUTPUT_DIR   /data/out\n", nil),
		src.EXPECT().Project(gomock.Any()).Return("", errors.New("not configured")),
	)

	c := amlt.NewClient(src, nil)
	dir, err := c.OutputDir(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "/data/out", dir)

	_, err = c.OutputDir(context.Background())
	assert.ErrorIs(t, err, amlt.ErrFetch)
}
