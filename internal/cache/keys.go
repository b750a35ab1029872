package cache

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
)

// CanonicalJSON returns a deterministic serialization of v: the value is
// round-tripped through generic JSON so that map keys come out sorted no
// matter how the caller built the value. Logically identical parameter sets
// therefore always serialize identically.
func CanonicalJSON(v interface{}) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}

	var generic interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}
	return json.Marshal(generic)
}

// EntryKey builds the versioned cache key for a request. The resource version
// is part of the hashed material, so a bump orphans every entry built against
// the previous version rather than requiring explicit deletion.
func EntryKey(userID uint, kind string, version int64, params interface{}) (string, error) {
	normalized, err := CanonicalJSON(params)
	if err != nil {
		return "", err
	}

	material, err := json.Marshal(map[string]interface{}{
		"user":    userID,
		"kind":    kind,
		"version": version,
		"params":  json.RawMessage(normalized),
	})
	if err != nil {
		return "", err
	}

	sum := sha256.Sum256(material)
	return fmt.Sprintf("entry:%x", sum), nil
}

// RateKey is the rate-bucket key for a (user, endpoint) pair.
func RateKey(userID uint, endpoint string) string {
	return fmt.Sprintf("ratelimit:%s:user:%d", endpoint, userID)
}

// RateKeyIP is the rate-bucket key for unauthenticated endpoints.
func RateKeyIP(ip string, endpoint string) string {
	return fmt.Sprintf("ratelimit:%s:ip:%s", endpoint, ip)
}
