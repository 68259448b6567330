package service_test

import (
	"context"
	"testing"

	"cashdesk/internal/model"
	"cashdesk/internal/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInvoiceRequest_QueuesOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess := f.open(t, storeA, "0")
	m := f.appendMov(t, storeA, sess.ID, model.KindSale, model.DirectionIn, "121")

	require.NoError(t, f.invoices.Request(ctx, storeA, m.ID))
	assert.Equal(t, []string{m.ID.String()}, f.queue.ids)

	_, err := f.ledger.StampInvoice(ctx, m.ID, "INV-9")
	require.NoError(t, err)

	err = f.invoices.Request(ctx, storeA, m.ID)
	assert.ErrorIs(t, err, service.ErrInvoiceAlreadyStamped)
	assert.Len(t, f.queue.ids, 1)
}

func TestInvoiceRequest_QueueDown(t *testing.T) {
	f := newFixture(t)
	sess := f.open(t, storeA, "0")
	m := f.appendMov(t, storeA, sess.ID, model.KindSale, model.DirectionIn, "10")

	f.queue.err = errBoom
	err := f.invoices.Request(context.Background(), storeA, m.ID)
	assert.ErrorIs(t, err, service.ErrStorageUnavailable)

	err = f.invoices.Request(context.Background(), storeB, m.ID)
	assert.ErrorIs(t, err, service.ErrMovementNotFound)
}
