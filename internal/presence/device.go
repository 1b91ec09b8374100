package presence

import (
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/GriffinCanCode/SupportDesk/presence/internal/presence/api"
)

// Screen is the display size reported in the device snapshot. Headless
// clients leave it zero.
type Screen struct {
	Width  int
	Height int
}

// CaptureDevice takes the device snapshot sent with start.
func CaptureDevice(screen Screen, now time.Time) api.DeviceInfo {
	zone, _ := now.Zone()
	if loc := now.Location(); loc != nil && loc.String() != "Local" {
		zone = loc.String()
	}

	return api.DeviceInfo{
		UserAgent:    fmt.Sprintf("%s (%s; %s)", api.UserAgent, runtime.GOOS, runtime.GOARCH),
		Platform:     runtime.GOOS + "/" + runtime.GOARCH,
		Language:     language(),
		ScreenWidth:  screen.Width,
		ScreenHeight: screen.Height,
		Timezone:     zone,
		Timestamp:    now.UTC(),
	}
}

// language maps POSIX locale variables ("en_US.UTF-8") to a BCP 47 tag.
func language() string {
	for _, key := range []string{"LC_ALL", "LC_MESSAGES", "LANG"} {
		v := os.Getenv(key)
		if v == "" || v == "C" || v == "POSIX" {
			continue
		}
		if i := strings.IndexAny(v, ".@"); i >= 0 {
			v = v[:i]
		}
		return strings.ReplaceAll(v, "_", "-")
	}
	return "en-US"
}
