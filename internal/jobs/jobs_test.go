package jobs

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOpString(t *testing.T) {
	tests := []struct {
		op   Op
		want string
	}{
		{OpEncryptAESGCM, "encrypt_aes_gcm"},
		{OpDecryptAESGCMExternalKey, "decrypt_aes_gcm_external_key"},
		{OpEncryptAESCBC, "encrypt_aes_cbc"},
		{OpDecryptChaChaPoly, "decrypt_chachapoly"},
		{OpEncryptChaChaPolyExternalKey, "encrypt_chachapoly_external_key"},
		{OpGenerateRandom, "generate_random"},
		{Op(255), "op(255)"},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, tc.op.String())
	}
}

func TestErrorResponsePreservesCorrelation(t *testing.T) {
	req := Request{
		Op:        OpDecryptAESCBC,
		ClientID:  ClientID(11),
		RequestID: RequestID(1234),
		Buffer:    []byte("payload"),
	}
	cause := errors.New("boom")

	resp := ErrorResponse(req, cause)
	assert.Equal(t, req.Op, resp.Op)
	assert.Equal(t, req.ClientID, resp.ClientID)
	assert.Equal(t, req.RequestID, resp.RequestID)
	assert.Equal(t, cause, resp.Err)
	assert.Nil(t, resp.Buffer, "error responses carry no payload")
	assert.Nil(t, resp.Tag)
}
