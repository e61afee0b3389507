package contract

import (
    "path/filepath"
    "testing"
)

// TestNormalizeFileID 验证路径规范化逻辑。
func TestNormalizeFileID(t *testing.T) {
    // 原有测试用例
    wpath := filepath.Join("a", "b", "c")
    basicCases := map[string]string{
        wpath: "a/b/c",
        "./x/../y": "y",
        "": ".",
    }
    for in, want := range basicCases {
        got := NormalizeFileID(in)
        if string(got) != want {
            t.Fatalf("基础测试 %s -> %s, 预期 %s", in, got, want)
        }
    }

    // 扩展测试用例 - 系统化覆盖
    tests := []struct {
        name     string
        input    string
        expected string
    }{
        // 反斜杠转换
        {"Windows路径", "C:\\Users\\test\\file.txt", "C:/Users/test/file.txt"},
        {"相对路径反斜杠", "src\\main\\java\\App.java", "src/main/java/App.java"},
        
        // path.Clean 功能
        {"清理多余斜杠", "path//to///file.txt", "path/to/file.txt"},
        {"清理当前目录", "path/./to/./file.txt", "path/to/file.txt"},
        {"处理父目录", "path/to/../from/file.txt", "path/from/file.txt"},
        
        // 边界情况
        {"单个点", ".", "."},
        {"双点", "..", ".."},
        {"根路径", "/", "/"},
        {"Windows根", "C:\\", "C:"},
        
        // 跨平台混合分隔符
        {"混合分隔符", "C:\\Users/test\\Documents/file.txt", "C:/Users/test/Documents/file.txt"},
        {"复杂混合路径", "src\\..\\test/./data\\\\file.txt", "test/data/file.txt"},
        
        // 特殊字符
        {"中文路径", "项目\\文档/测试.txt", "项目/文档/测试.txt"},
        {"空格路径", "My Documents\\My File.txt", "My Documents/My File.txt"},
        
        // 绝对路径
        {"Unix绝对路径", "/home/user/../admin/file.txt", "/home/admin/file.txt"},
        {"Windows绝对路径", "C:\\Program Files\\..\\Windows\\System32", "C:/Windows/System32"},
        
        // 极端情况
        {"仅分隔符", "\\\\\\///", "/"},
        {"复杂父目录", "a\\b\\c\\..\\..\\..\\..\\d", "../d"},
    }

    for _, tt := range tests {
        t.Run(tt.name, func(t *testing.T) {
            result := NormalizeFileID(tt.input)
            if string(result) != tt.expected {
                t.Errorf("NormalizeFileID(%q) = %q, expected %q", tt.input, result, tt.expected)
            }
        })
    }
}

// BenchmarkNormalizeFileID 性能基准测试
func BenchmarkNormalizeFileID(b *testing.B) {
    testPaths := []string{
        "C:\\Users\\test\\Documents\\file.txt",
        "src/main/java/../../../test/data/file.txt",
        "path//to///many////slashes/file.txt",
        "very/long/path/with/many/segments/and/mixed\\separators/file.txt",
    }

    b.ResetTimer()
    for i := 0; i < b.N; i++ {
        for _, path := range testPaths {
            NormalizeFileID(path)
        }
    }
}


