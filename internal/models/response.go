package models

// Envelope wraps a payload in the success envelope. A nil payload becomes
// the bare {"status":"ok"}; a payload that already carries a status key is
// passed through; anything else is embedded under "data".
func Envelope(data map[string]interface{}) map[string]interface{} {
	if data == nil {
		return map[string]interface{}{"status": "ok"}
	}
	if _, ok := data["status"]; ok {
		return data
	}
	return map[string]interface{}{"status": "ok", "data": data}
}

// FailEnvelope builds the failure envelope, optionally carrying detail.
func FailEnvelope(data interface{}) map[string]interface{} {
	resp := map[string]interface{}{"status": "fail"}
	if data != nil {
		resp["data"] = data
	}
	return resp
}

// AccountResponse shapes the account body handed to a device.
func AccountResponse(c *Candidate, encounterLimit int, lastReturned *int64, lastReason string, isBurnt int) map[string]interface{} {
	remaining := encounterLimit - int(c.Encounters)
	if remaining < 0 {
		remaining = 0
	}
	resp := map[string]interface{}{
		"username":             c.Username,
		"password":             c.Password,
		"level":                c.Level,
		"remaining_encounters": remaining,
		"is_burnt":             isBurnt,
	}
	if lastReturned != nil && *lastReturned != 0 {
		resp["last_returned"] = *lastReturned
	}
	if lastReason != "" {
		resp["last_reason"] = lastReason
	}
	if c.SoftbanTime.Valid && c.SoftbanTime.String != "" {
		resp["softban_info"] = map[string]interface{}{
			"time":     c.SoftbanTime.String,
			"location": c.SoftbanLocation.String,
		}
	}
	return resp
}
