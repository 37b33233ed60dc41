// Package all imports every store implementation.
//
// Import this package for its side effects to register the stores:
//
//	import (
//		"github.com/git-pkgs/crateindex/internal/core"
//		_ "github.com/git-pkgs/crateindex/all"
//	)
//
//	// Now all stores are available
//	kinds := core.SupportedStores()
//	// ["dir", "git", "sparse"]
package all

import (
	_ "github.com/git-pkgs/crateindex/internal/cargo"
	_ "github.com/git-pkgs/crateindex/internal/dir"
	_ "github.com/git-pkgs/crateindex/internal/git"
)
