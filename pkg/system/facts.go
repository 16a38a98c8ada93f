package system

import (
	"context"
	"strings"
	"time"
)

// Facts is the immutable set of node facts collected once per run and
// passed explicitly to every probe and apply.
type Facts struct {
	// Hostname is the target's host name.
	Hostname string `json:"hostname"`

	// OS is the operating system ID (e.g. "rhel", "debian").
	OS string `json:"os"`

	// OSFamily is the OS family (e.g. "redhat", "debian").
	OSFamily string `json:"os_family"`

	// OSVersion is the OS version ID.
	OSVersion string `json:"os_version"`

	// Kernel is the kernel release.
	Kernel string `json:"kernel"`

	// Arch is the machine architecture.
	Arch string `json:"arch"`

	// CollectedAt is when the facts were gathered.
	CollectedAt time.Time `json:"collected_at"`
}

// IsRedHat reports whether the target belongs to the Red Hat family.
func (f *Facts) IsRedHat() bool {
	return f.OSFamily == "redhat"
}

// IsDebian reports whether the target belongs to the Debian family.
func (f *Facts) IsDebian() bool {
	return f.OSFamily == "debian"
}

// CollectFacts gathers node facts through the given runner, so a remote
// converge observes the remote host.
func CollectFacts(ctx context.Context, r Runner) (*Facts, error) {
	facts := &Facts{CollectedAt: time.Now()}

	if res, err := r.Run(ctx, "hostname"); err == nil && res.Ok() {
		facts.Hostname = strings.TrimSpace(res.Stdout)
	}

	if res, err := r.Run(ctx, "uname", "-r"); err == nil && res.Ok() {
		facts.Kernel = strings.TrimSpace(res.Stdout)
	}

	if res, err := r.Run(ctx, "uname", "-m"); err == nil && res.Ok() {
		facts.Arch = strings.TrimSpace(res.Stdout)
	}

	if data, err := r.ReadFile(ctx, "/etc/os-release"); err == nil {
		parseOSRelease(facts, string(data))
	}

	return facts, nil
}

// parseOSRelease fills OS identity facts from /etc/os-release content.
func parseOSRelease(facts *Facts, content string) {
	fields := make(map[string]string)
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		fields[key] = strings.Trim(value, `"`)
	}

	facts.OS = fields["ID"]
	facts.OSVersion = fields["VERSION_ID"]
	facts.OSFamily = osFamily(fields["ID"], fields["ID_LIKE"])
}

// osFamily maps an os-release ID and ID_LIKE to a package-manager family.
func osFamily(id, idLike string) string {
	like := id + " " + idLike
	switch {
	case containsAny(like, "rhel", "fedora", "centos", "rocky", "almalinux"):
		return "redhat"
	case containsAny(like, "debian", "ubuntu"):
		return "debian"
	case containsAny(like, "suse"):
		return "suse"
	default:
		return id
	}
}

func containsAny(haystack string, needles ...string) bool {
	for _, n := range needles {
		for _, field := range strings.Fields(haystack) {
			if field == n {
				return true
			}
		}
	}
	return false
}
