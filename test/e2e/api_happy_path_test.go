package e2e

import (
	"testing"
	"time"

	"github.com/securacv/btctl/test/fixtures"
	"github.com/securacv/btctl/test/harness"
)

// TestE2E_HappyPath walks the daemon through its everyday operator
// sequence: probes, power-on, a settings change, a scan, power-off.
func TestE2E_HappyPath(t *testing.T) {
	server := harness.NewServer(t, harness.DefaultOptions())
	base := server.URL + "/api/v1"

	// 1) Probes answer before any command has run.
	body := httpGetJSON(t, base+"/health")
	mustHave(t, body, "result", "ok")
	mustHave(t, body, "data.status", "ok")

	body = httpGetJSON(t, base+"/ready")
	mustHave(t, body, "data.ready", true)
	mustHave(t, body, "data.state", "disabled")

	// 2) The radio boots disabled with factory settings.
	body = httpGetJSON(t, base+"/bluetooth")
	mustHave(t, body, "data.state", "disabled")
	mustHave(t, body, "data.settings.autoAdvertise", true)
	mustHave(t, body, "data.settings.deviceName", "SecuraCV-Canary")
	if corr, ok := body["correlationId"].(string); !ok || corr == "" {
		t.Error("Status envelope is missing a correlationId")
	}

	// 3) Enable powers up straight into advertising.
	httpPostJSON200(t, base+"/bluetooth/enable", nil)
	body = httpGetJSON(t, base+"/bluetooth")
	mustHave(t, body, "data.state", "advertising")

	// 4) Settings roundtrip; omitted fields keep their values.
	body = httpPutJSON200(t, base+"/bluetooth/settings", `{"deviceName":"SCV-E2E"}`)
	mustHave(t, body, "data.deviceName", "SCV-E2E")

	body = httpGetJSON(t, base+"/bluetooth/settings")
	mustHave(t, body, "data.deviceName", "SCV-E2E")
	mustHave(t, body, "data.autoAdvertise", true)

	// 5) A scan window from idle discovers the scripted peers.
	httpPostJSON200(t, base+"/bluetooth/advertising/stop", nil)
	server.Stack.ScriptScanResults(fixtures.DiscoverablePeers())
	httpPostJSON200(t, base+"/bluetooth/scan/start", nil)
	waitForJSONPath(t, base+"/bluetooth/scan/results", "data.count", float64(3), 2*time.Second)

	body = httpGetJSON(t, base+"/bluetooth/scan/results")
	results, _ := getJSONPath(body, "data.results").([]interface{})
	found := false
	for _, entry := range results {
		if getJSONPath(entry.(map[string]interface{}), "address") == fixtures.PhoneAddress {
			found = true
		}
	}
	if !found {
		t.Errorf("Scan results missing %s: %v", fixtures.PhoneAddress, results)
	}

	// 6) The window closes on its own and the radio settles back to idle.
	waitForJSONPath(t, base+"/bluetooth", "data.state", "idle", 2*time.Second)

	// 7) No devices are paired by any of the above.
	body = httpGetJSON(t, base+"/bluetooth/devices")
	mustHave(t, body, "data.count", float64(0))

	// 8) Disable brings everything down.
	httpPostJSON200(t, base+"/bluetooth/disable", nil)
	body = httpGetJSON(t, base+"/bluetooth")
	mustHave(t, body, "data.state", "disabled")

	// The probe still answers while the radio is off.
	body = httpGetJSON(t, base+"/ready")
	mustHave(t, body, "data.ready", true)
}

// TestE2E_ScanCrowdCapped verifies the scan result collection holds its
// 16-entry bound when discovery surfaces more peers than fit.
func TestE2E_ScanCrowdCapped(t *testing.T) {
	server := harness.NewServer(t, harness.DefaultOptions())
	base := server.URL + "/api/v1"

	httpPostJSON200(t, base+"/bluetooth/enable", nil)
	httpPostJSON200(t, base+"/bluetooth/advertising/stop", nil)

	server.Stack.ScriptScanResults(fixtures.CrowdedPeers(24))
	httpPostJSON200(t, base+"/bluetooth/scan/start", nil)
	waitForJSONPath(t, base+"/bluetooth/scan/results", "data.count", float64(16), 2*time.Second)

	// The cap holds after the window closes too.
	waitForJSONPath(t, base+"/bluetooth", "data.state", "idle", 2*time.Second)
	body := httpGetJSON(t, base+"/bluetooth/scan/results")
	mustHave(t, body, "data.count", float64(16))
}
