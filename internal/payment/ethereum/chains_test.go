package ethereum

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadChainDefinitions(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "chains.yaml")
	content := `chains:
  sepolia:
    rpc_url: https://rpc.sepolia.example
    ws_url: wss://ws.sepolia.example
    description: test network
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("写入测试文件失败: %v", err)
	}

	defs, err := LoadChainDefinitions(path)
	if err != nil {
		t.Fatalf("加载失败: %v", err)
	}
	def, err := defs.Resolve("sepolia")
	if err != nil {
		t.Fatalf("解析失败: %v", err)
	}
	if def.RPCURL != "https://rpc.sepolia.example" {
		t.Fatalf("RPC 地址不符: %q", def.RPCURL)
	}

	if _, err := defs.Resolve("mainnet"); err == nil {
		t.Fatalf("未定义的链应当报错")
	}
}

func TestLoadChainDefinitionsEmptyPath(t *testing.T) {
	defs, err := LoadChainDefinitions("")
	if err != nil {
		t.Fatalf("空路径不应报错: %v", err)
	}
	if defs.Chains == nil {
		t.Fatalf("应返回空 map")
	}
}
