package filesystem

import (
	"fmt"
	"net/url"

	"github.com/vfskit/sandboxfs/sbfs/filesystem/common"
)

// URLScheme is the scheme used to address entries across sandboxes:
// sandbox://<filesystem-name><fullPath>.
const URLScheme = "sandbox"

// URL renders a sandbox-absolute path of this filesystem as a sandbox URL.
func (fs *FileSystem) URL(fullPath string) string {
	u := url.URL{
		Scheme: URLScheme,
		Host:   fs.name,
		Path:   common.NormalizeFullPath(fullPath),
	}
	return u.String()
}

// ParseURL splits a sandbox URL into its filesystem name and fullPath.
// Malformed input fails with ErrSyntax.
func ParseURL(raw string) (name, fullPath string, err error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", fmt.Errorf("malformed sandbox URL %q: %w", raw, common.ErrSyntax)
	}
	if u.Scheme != URLScheme || u.Host == "" {
		return "", "", fmt.Errorf("sandbox URL %q must look like %s://name/path: %w", raw, URLScheme, common.ErrSyntax)
	}
	if u.User != nil || u.RawQuery != "" || u.Fragment != "" {
		return "", "", fmt.Errorf("sandbox URL %q carries unsupported components: %w", raw, common.ErrSyntax)
	}

	p := u.Path
	if p == "" {
		p = "/"
	}
	return u.Host, common.NormalizeFullPath(p), nil
}
