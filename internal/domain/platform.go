package domain

// Platform identifies an external chat service.
type Platform string

const (
	PlatformTelegram Platform = "telegram"
	PlatformVK       Platform = "vk"
	PlatformMax      Platform = "max"
)

// Platforms lists every supported platform, in a stable order.
func Platforms() []Platform {
	return []Platform{PlatformTelegram, PlatformVK, PlatformMax}
}

func (p Platform) Valid() bool {
	switch p {
	case PlatformTelegram, PlatformVK, PlatformMax:
		return true
	}
	return false
}

func (p Platform) String() string { return string(p) }

func ParsePlatform(s string) (Platform, error) {
	p := Platform(s)
	if !p.Valid() {
		return "", ErrValidationMeta("unknown platform", map[string]string{"platform": s})
	}
	return p, nil
}

// RequestedBy records who asked for a delivery attempt.
type RequestedBy string

const (
	RequestedBySystem RequestedBy = "system"
	RequestedByUser   RequestedBy = "user"
)

func (r RequestedBy) Valid() bool {
	return r == RequestedBySystem || r == RequestedByUser
}
