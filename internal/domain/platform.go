package domain

type Platform string

const (
	PlatformAndroid Platform = "android"
	PlatformIOS     Platform = "ios"
)

// SupportedPlatforms задает порядок обработки платформ при загрузке
var SupportedPlatforms = []Platform{PlatformAndroid, PlatformIOS}

func ParsePlatform(s string) (Platform, bool) {
	for _, p := range SupportedPlatforms {
		if string(p) == s {
			return p, true
		}
	}
	return "", false
}
