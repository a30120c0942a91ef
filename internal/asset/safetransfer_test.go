package asset

import (
	"context"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/lmsrd/internal/asset/memtoken"
	"github.com/alanyoungcy/lmsrd/internal/domain"
)

func TestPullExact(t *testing.T) {
	ctx := context.Background()
	tok := memtoken.New()
	tok.Mint("alice", big.NewInt(100))

	st := NewSafeTransferor(tok)
	require.NoError(t, st.PullExact(ctx, "alice", "custody", big.NewInt(60)))

	bal, err := tok.BalanceOf(ctx, "custody")
	require.NoError(t, err)
	require.Equal(t, int64(60), bal.Int64())
}

func TestPullExactFeeOnTransfer(t *testing.T) {
	ctx := context.Background()
	tok := memtoken.New(memtoken.WithTransferFeeBps(1000)) // 10% fee
	tok.Mint("alice", big.NewInt(100))

	st := NewSafeTransferor(tok)
	err := st.PullExact(ctx, "alice", "custody", big.NewInt(100))
	require.ErrorIs(t, err, domain.ErrTransferMismatch)

	var mismatch *domain.TransferMismatchError
	require.ErrorAs(t, err, &mismatch)
	require.Equal(t, int64(100), mismatch.Expected.Int64())
	require.Equal(t, int64(90), mismatch.Observed.Int64())
}

func TestPushExactRejectedTransfer(t *testing.T) {
	ctx := context.Background()
	tok := memtoken.New(memtoken.WithRejectedTransfers())
	tok.Mint("custody", big.NewInt(100))

	st := NewSafeTransferor(tok)
	err := st.PushExact(ctx, "custody", "bob", big.NewInt(10))
	require.ErrorIs(t, err, domain.ErrTransferFailed)
}

func TestPushExactInsufficientBalance(t *testing.T) {
	ctx := context.Background()
	tok := memtoken.New()

	st := NewSafeTransferor(tok)
	err := st.PushExact(ctx, "custody", "bob", big.NewInt(10))
	require.ErrorIs(t, err, domain.ErrTransferFailed)
}

func TestZeroAmountIsNoop(t *testing.T) {
	ctx := context.Background()
	tok := memtoken.New(memtoken.WithRejectedTransfers())

	st := NewSafeTransferor(tok)
	require.NoError(t, st.PullExact(ctx, "alice", "custody", new(big.Int)))
	require.NoError(t, st.PushExact(ctx, "custody", "bob", new(big.Int)))
}

func TestCheckScale(t *testing.T) {
	ctx := context.Background()

	require.NoError(t, NewSafeTransferor(memtoken.New()).CheckScale(ctx))

	err := NewSafeTransferor(memtoken.New(memtoken.WithDecimals(6))).CheckScale(ctx)
	require.ErrorIs(t, err, domain.ErrScaleMismatch)
}
