package backend

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRequestSetConvertsValues(t *testing.T) {
	def, err := LookupRequest(InstrumentsService, OpInstrumentList)
	require.NoError(t, err)
	req := NewRequest(InstrumentsService, def)

	require.NoError(t, req.Set(FieldQuery, "IBM"))
	require.NoError(t, req.Set(FieldMaxResults, 10))
	require.NoError(t, req.Set(FieldYKFilter, "YK_FILTER_EQTY"))

	v, ok := req.Get(FieldMaxResults)
	require.True(t, ok)
	require.Equal(t, int64(10), v)
	require.Equal(t, OpInstrumentList, req.Operation())
	require.Equal(t, InstrumentsService, req.Service())
	require.Len(t, req.Fields(), 3)
}

func TestRequestSetRejectsUnknownField(t *testing.T) {
	def, err := LookupRequest(InstrumentsService, OpInstrumentList)
	require.NoError(t, err)
	req := NewRequest(InstrumentsService, def)

	err = req.Set("colour", "blue")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestRequestSetRejectsBadConversions(t *testing.T) {
	cases := []struct {
		op    string
		field string
		value any
	}{
		{OpInstrumentList, FieldYKFilter, "YK_FILTER_SHOES"},
		{OpInstrumentList, FieldMaxResults, "ten"},
		{OpInstrumentList, FieldQuery, 12},
		{OpGovtList, "partialMatch", "maybe"},
	}
	for _, tc := range cases {
		def, err := LookupRequest(InstrumentsService, tc.op)
		require.NoError(t, err)
		err = NewRequest(InstrumentsService, def).Set(tc.field, tc.value)
		require.ErrorIs(t, err, ErrInvalidConversion, "%s=%v", tc.field, tc.value)
	}
}

func TestRequestSetAcceptsTextForTypedFields(t *testing.T) {
	def, err := LookupRequest(InstrumentsService, OpGovtList)
	require.NoError(t, err)
	req := NewRequest(InstrumentsService, def)
	require.NoError(t, req.Set("partialMatch", "true"))
	require.NoError(t, req.Set(FieldMaxResults, "25"))

	v, _ := req.Get("partialMatch")
	require.Equal(t, true, v)
	v, _ = req.Get(FieldMaxResults)
	require.Equal(t, int64(25), v)
}

func TestLookupRequestUnknown(t *testing.T) {
	_, err := LookupRequest(InstrumentsService, "tickerListRequest")
	require.ErrorIs(t, err, ErrNotFound)
	_, err = LookupRequest("//blp/refdata", OpInstrumentList)
	require.ErrorIs(t, err, ErrNotFound)

	_, ok := LookupService(AuthService)
	require.True(t, ok)
}
