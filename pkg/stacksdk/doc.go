// Package stacksdk is the entry point to the platform.
//
// New builds an authenticated connection from a Config and exposes one
// manager per resource family:
//
//	cfg, err := stacksdk.LoadConfig("stack.toml", os.Environ, nil)
//	if err != nil {
//		return err
//	}
//	sdk, err := stacksdk.New(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	defer sdk.Close()
//
//	projects, err := sdk.Projects.Search(ctx, "quarry", false)
//
// Managers shape request payloads and wrap responses in resource.Resource
// values. Authentication, token renewal and error classification happen in
// package connection; errors returned here can be inspected with its
// predicates (connection.IsResponse, connection.IsNotFound, ...).
package stacksdk
