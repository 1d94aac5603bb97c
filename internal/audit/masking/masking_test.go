package masking

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMaskSecret(t *testing.T) {
	assert.Equal(t, "cus_****WXYZ", MaskSecret("cus_ABCDWXYZ"))
	assert.Equal(t, "cus_****", MaskSecret("cus_abc"))
	assert.Equal(t, "", MaskSecret("  "))
}

func TestMaskSensitiveOnlyTouchesSensitiveKeys(t *testing.T) {
	out := MaskSensitive(map[string]any{
		"processor_customer_id": "cus_12345678",
		"plan_code":             "STARTER",
		"nested":                map[string]any{"webhook_secret": "whsec_abcdefgh"},
		"credits":               int64(10),
	})

	assert.Equal(t, "cus_****5678", out["processor_customer_id"])
	assert.Equal(t, "STARTER", out["plan_code"])
	assert.Equal(t, int64(10), out["credits"])
	assert.Equal(t, "whsec_****efgh", out["nested"].(map[string]any)["webhook_secret"])
}
