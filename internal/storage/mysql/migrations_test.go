package mysql

import "testing"

func TestSplitSQLStatements(t *testing.T) {
	statements := splitSQLStatements("CREATE TABLE a (id INT);\n\nCREATE TABLE b (id INT);\n")
	if len(statements) != 2 {
		t.Fatalf("期望拆分出两条语句, 得到 %d", len(statements))
	}
	if statements[0] != "CREATE TABLE a (id INT)" {
		t.Fatalf("首条语句不符: %q", statements[0])
	}
}

func TestParseMigrationVersion(t *testing.T) {
	cases := map[string]string{
		"0001_create_purchases.sql": "0001",
		"0002.sql":                  "0002",
		"plain":                     "plain",
	}
	for name, want := range cases {
		if got := parseMigrationVersion(name); got != want {
			t.Fatalf("%s: 期望 %q, 得到 %q", name, want, got)
		}
	}
}

func TestLoadMigrationFiles(t *testing.T) {
	files, err := loadMigrationFiles()
	if err != nil {
		t.Fatalf("加载迁移文件失败: %v", err)
	}
	if len(files) == 0 {
		t.Fatalf("应至少嵌入一个迁移文件")
	}
	if files[0].version != "0001" {
		t.Fatalf("迁移应按版本排序: %q", files[0].version)
	}
}
