// Package upstream holds the HTTP clients for every registry the gateway
// fronts: the npm registry (also serving JSR through its npm-compat
// endpoint), the jsDelivr data API, the cdnjs library API, the GitHub Git
// tree and codeload endpoints, and the WordPress SVN file hosts.
//
// Metadata fetches carry a 10 s deadline and are memoized in an expiring
// LRU; archive and file fetches carry a 30 s deadline and stream. Upstream
// 404s classify as PackageNotFound (or FileNotFound for single files); any
// other failure classifies as UpstreamUnavailable.
package upstream
